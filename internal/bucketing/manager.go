package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"driver-auth-service/internal/config"
)

// Manager assigns drivers and events to stable hash buckets. Driver buckets
// are the Scylla partition prefix; event buckets spread audit rows.
type Manager struct {
	driverBuckets int
	eventBuckets  int
	hasherPool    sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		driverBuckets: cfg.Bucketing.DriverBuckets,
		eventBuckets:  cfg.Bucketing.EventBuckets,
	}

	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// GetDriverBucket returns the stable bucket for a driver ID (0 to driverBuckets-1).
func (m *Manager) GetDriverBucket(driverID uuid.UUID) int {
	return m.getBucket(driverID.String(), m.driverBuckets)
}

// GetEventBucket returns the bucket for an arbitrary identifier such as a
// phone hash.
func (m *Manager) GetEventBucket(identifier string) int {
	return m.getBucket(identifier, m.eventBuckets)
}

// GetDateBucket returns the UTC date partition used by the audit trail.
func (m *Manager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (m *Manager) DriverBuckets() int {
	return m.driverBuckets
}

func (m *Manager) getBucket(key string, numBuckets int) int {
	return int(m.getHash(key) % uint64(numBuckets))
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
