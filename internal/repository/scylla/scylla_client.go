package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"driver-auth-service/internal/config"
	"driver-auth-service/internal/util"
)

// PreparedStatements holds the statements the driver repository executes.
type PreparedStatements struct {
	CreateDriver        *gocql.Query
	ClaimEmail          *gocql.Query
	ReleaseEmail        *gocql.Query
	CreatePhoneToDriver *gocql.Query
	CreateProfile       *gocql.Query
	GetDriverByEmail    *gocql.Query
	GetDriverByID       *gocql.Query
	GetDriverByPhone    *gocql.Query
	UpdateConsent       *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateDriver = s.Session.Query(`
        INSERT INTO drivers (
            driver_bucket, driver_id, email, phone_hash, phone_encrypted, phone_key_id,
            password_hash, phone_verified, email_verified, first_name, last_name,
            referral_code, consent_agreed, consent_version, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	// ClaimEmail is the uniqueness gate for signup. The LWT guarantees that
	// two concurrent finalizations with the same email cannot both win.
	prepared.ClaimEmail = s.Session.Query(`
        INSERT INTO email_to_driver (email, driver_bucket, driver_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`)

	prepared.ReleaseEmail = s.Session.Query(`
        DELETE FROM email_to_driver WHERE email = ?`)

	prepared.CreatePhoneToDriver = s.Session.Query(`
        INSERT INTO phone_to_driver (phone_hash, driver_bucket, driver_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.CreateProfile = s.Session.Query(`
        INSERT INTO driver_profiles (
            driver_bucket, driver_id, status, first_name, last_name,
            referral_code, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetDriverByEmail = s.Session.Query(`
        SELECT driver_bucket, driver_id FROM email_to_driver WHERE email = ?`)

	prepared.GetDriverByID = s.Session.Query(`
        SELECT driver_bucket, driver_id, email, phone_hash, phone_encrypted, phone_key_id,
            password_hash, phone_verified, email_verified, first_name, last_name,
            referral_code, consent_agreed, consent_version, created_at, updated_at
        FROM drivers WHERE driver_bucket = ? AND driver_id = ?`)

	prepared.GetDriverByPhone = s.Session.Query(`
        SELECT driver_bucket, driver_id FROM phone_to_driver WHERE phone_hash = ?`)

	prepared.UpdateConsent = s.Session.Query(`
        UPDATE drivers SET consent_agreed = ?, consent_version = ?, updated_at = ?
        WHERE driver_bucket = ? AND driver_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
