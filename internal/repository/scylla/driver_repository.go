package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"driver-auth-service/internal/models"
	"driver-auth-service/internal/util"
)

// ErrEmailTaken is returned when the email uniqueness claim loses its LWT.
var ErrEmailTaken = errors.New("email already registered")

// DriverRepository persists driver identities. Email uniqueness is enforced
// through a lightweight transaction on the email_to_driver table; the driver
// row itself is written only after the claim wins.
type DriverRepository struct {
	client *ScyllaClient
}

func NewDriverRepository(client *ScyllaClient) *DriverRepository {
	return &DriverRepository{client: client}
}

// CreateDriver claims the email, then writes the identity row and its lookup
// entries. A lost claim surfaces as ErrEmailTaken and writes nothing else.
func (r *DriverRepository) CreateDriver(ctx context.Context, driver *models.Driver) error {
	now := time.Now()

	claim := r.client.Prepared.ClaimEmail.WithContext(ctx).Bind(
		driver.Email, driver.DriverBucket, driver.DriverID, now)

	applied, err := claim.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Email claim query failed", zap.Error(err))
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}

	insert := r.client.Prepared.CreateDriver.WithContext(ctx).Bind(
		driver.DriverBucket,
		driver.DriverID,
		driver.Email,
		driver.PhoneHash,
		driver.PhoneEncrypted,
		driver.PhoneKeyID,
		driver.PasswordHash,
		driver.PhoneVerified,
		driver.EmailVerified,
		driver.FirstName,
		driver.LastName,
		driver.ReferralCode,
		driver.ConsentAgreed,
		driver.ConsentVersion,
		driver.CreatedAt,
		now,
	)

	if err := r.client.ExecuteWithRetry(insert, 3); err != nil {
		// Roll the claim back so the email is not stranded without a driver.
		release := r.client.Prepared.ReleaseEmail.WithContext(ctx).Bind(driver.Email)
		if rbErr := r.client.ExecuteWithRetry(release, 3); rbErr != nil {
			util.Error("Failed to release email claim after driver insert failure",
				zap.String("driver_id", driver.DriverID),
				zap.Error(rbErr))
		}
		util.Error("Failed to insert driver",
			zap.String("driver_id", driver.DriverID),
			zap.Error(err))
		return fmt.Errorf("failed to insert driver: %w", err)
	}

	phoneIdx := r.client.Prepared.CreatePhoneToDriver.WithContext(ctx).Bind(
		driver.PhoneHash, driver.DriverBucket, driver.DriverID, now)
	if err := r.client.ExecuteWithRetry(phoneIdx, 3); err != nil {
		util.Error("Failed to insert phone lookup entry",
			zap.String("driver_id", driver.DriverID),
			zap.Error(err))
		return fmt.Errorf("failed to insert phone lookup entry: %w", err)
	}

	util.Info("Driver identity created",
		zap.String("driver_id", driver.DriverID),
		zap.Int("driver_bucket", driver.DriverBucket))

	return nil
}

// CreateProfile writes the 1:1 domain profile row.
func (r *DriverRepository) CreateProfile(ctx context.Context, bucket int, profile *models.DriverProfile) error {
	now := time.Now()

	insert := r.client.Prepared.CreateProfile.WithContext(ctx).Bind(
		bucket,
		profile.DriverID,
		profile.Status,
		profile.FirstName,
		profile.LastName,
		profile.ReferralCode,
		profile.CreatedAt,
		now,
	)

	if err := r.client.ExecuteWithRetry(insert, 3); err != nil {
		util.Error("Failed to insert driver profile",
			zap.String("driver_id", profile.DriverID),
			zap.Error(err))
		return fmt.Errorf("failed to insert driver profile: %w", err)
	}

	return nil
}

// EmailExists reports whether an email is already claimed.
func (r *DriverRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var bucket int
	var driverID string

	query := r.client.Prepared.GetDriverByEmail.WithContext(ctx).Bind(email)
	err := r.client.ScanWithRetry(query, &bucket, &driverID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up email: %w", err)
	}
	return true, nil
}

// FindByPhoneHash returns the driver ID registered under a phone hash, or
// empty when the phone is unknown.
func (r *DriverRepository) FindByPhoneHash(ctx context.Context, phoneHash string) (string, error) {
	var bucket int
	var driverID string

	query := r.client.Prepared.GetDriverByPhone.WithContext(ctx).Bind(phoneHash)
	err := r.client.ScanWithRetry(query, &bucket, &driverID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up phone hash: %w", err)
	}
	return driverID, nil
}

// GetDriver loads a full identity row.
func (r *DriverRepository) GetDriver(ctx context.Context, bucket int, driverID string) (*models.Driver, error) {
	driver := &models.Driver{}
	var updatedAt time.Time

	query := r.client.Prepared.GetDriverByID.WithContext(ctx).Bind(bucket, driverID)
	err := r.client.ScanWithRetry(query,
		&driver.DriverBucket,
		&driver.DriverID,
		&driver.Email,
		&driver.PhoneHash,
		&driver.PhoneEncrypted,
		&driver.PhoneKeyID,
		&driver.PasswordHash,
		&driver.PhoneVerified,
		&driver.EmailVerified,
		&driver.FirstName,
		&driver.LastName,
		&driver.ReferralCode,
		&driver.ConsentAgreed,
		&driver.ConsentVersion,
		&driver.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load driver: %w", err)
	}
	if !updatedAt.IsZero() {
		driver.UpdatedAt = &updatedAt
	}

	return driver, nil
}
