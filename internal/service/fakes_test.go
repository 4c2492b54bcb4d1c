package service

import (
	"context"
	"errors"
	"time"

	"driver-auth-service/internal/config"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/repository/scylla"
	"driver-auth-service/internal/sms"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		OTP: config.OTPConfig{
			CodeLength:  6,
			SessionTTL:  10 * time.Minute,
			MaxAttempts: 5,
			Pepper:      "test-pepper",
		},
		RateLimit: config.RateLimitConfig{
			MaxRequests:     5,
			Window:          15 * time.Minute,
			LockoutDuration: 30 * time.Minute,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{
			DriverBuckets: 64,
			EventBuckets:  16,
		},
	}
}

// fakeSessionStore mirrors the Redis store's state machine in memory.
type fakeSessionStore struct {
	sessions map[string]*models.OTPSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*models.OTPSession)}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, session *models.OTPSession) error {
	copied := *session
	f.sessions[session.SessionToken] = &copied
	return nil
}

func (f *fakeSessionStore) GetSalt(_ context.Context, token string) (string, error) {
	session, ok := f.sessions[token]
	if !ok {
		return "", nil
	}
	return session.OTPSalt, nil
}

func (f *fakeSessionStore) VerifySession(_ context.Context, token, candidateHash string) (*models.VerifyResult, error) {
	session, ok := f.sessions[token]
	if !ok {
		return &models.VerifyResult{Code: models.VerifyNotFound}, nil
	}

	switch session.Status {
	case models.SessionVerified:
		return &models.VerifyResult{Code: models.VerifyAlreadyDone}, nil
	case models.SessionBlocked:
		return &models.VerifyResult{Code: models.VerifyBlocked}, nil
	}

	if session.Status == models.SessionExpired || !time.Now().Before(session.ExpiresAt) {
		session.Status = models.SessionExpired
		return &models.VerifyResult{Code: models.VerifyExpired}, nil
	}

	if candidateHash == session.OTPHash {
		session.Status = models.SessionVerified
		return &models.VerifyResult{
			Success:    true,
			Code:       models.VerifyOK,
			SignupData: session.SignupData,
		}, nil
	}

	session.AttemptsRemaining--
	if session.AttemptsRemaining <= 0 {
		session.AttemptsRemaining = 0
		session.Status = models.SessionBlocked
		return &models.VerifyResult{Code: models.VerifyMaxAttempts}, nil
	}
	return &models.VerifyResult{
		Code:              models.VerifyInvalidCode,
		RemainingAttempts: session.AttemptsRemaining,
	}, nil
}

func (f *fakeSessionStore) FetchSession(_ context.Context, token string) (*models.OTPSession, error) {
	session, ok := f.sessions[token]
	if !ok {
		return nil, nil
	}
	copied := *session
	if copied.Status != models.SessionExpired && time.Now().After(copied.ExpiresAt) {
		copied.Status = models.SessionExpired
	}
	return &copied, nil
}

func (f *fakeSessionStore) ConsumeSession(_ context.Context, token string) (string, error) {
	session, ok := f.sessions[token]
	if !ok {
		return "not_found", nil
	}
	if time.Now().After(session.ExpiresAt) {
		session.Status = models.SessionExpired
		return "expired", nil
	}
	if session.Status != models.SessionVerified {
		return session.Status, nil
	}
	session.Status = models.SessionExpired
	return "ok", nil
}

// fakeRateLimiter counts requests per key the way the Lua script does.
type fakeRateLimiter struct {
	limit      int
	retryAfter int
	counts     map[string]int
	locked     map[string]bool
}

func newFakeRateLimiter(limit, retryAfter int) *fakeRateLimiter {
	return &fakeRateLimiter{
		limit:      limit,
		retryAfter: retryAfter,
		counts:     make(map[string]int),
		locked:     make(map[string]bool),
	}
}

func (f *fakeRateLimiter) Allow(_ context.Context, phone, ip string) (*models.RateLimitDecision, error) {
	key := phone + ":" + ip
	if f.locked[key] {
		return &models.RateLimitDecision{
			RetryAfterSeconds: f.retryAfter,
			Reason:            models.RateLimitLockedOut,
		}, nil
	}
	f.counts[key]++
	if f.counts[key] > f.limit {
		f.locked[key] = true
		return &models.RateLimitDecision{
			RetryAfterSeconds: f.retryAfter,
			Reason:            models.RateLimitWindowExceeded,
		}, nil
	}
	return &models.RateLimitDecision{
		Allowed:   true,
		Remaining: f.limit - f.counts[key],
	}, nil
}

// fakeDispatcher records sends without delivering anything.
type fakeDispatcher struct {
	delivered bool
	sent      []string
}

func (f *fakeDispatcher) Send(_ context.Context, phone, message string) (*sms.Result, error) {
	f.sent = append(f.sent, message)
	return &sms.Result{Delivered: f.delivered}, nil
}

func (f *fakeDispatcher) HasProviders() bool {
	return f.delivered
}

// brokenDispatcher fails every send without even a result.
type brokenDispatcher struct{}

func (brokenDispatcher) Send(_ context.Context, _, _ string) (*sms.Result, error) {
	return nil, errors.New("gateway unreachable")
}

func (brokenDispatcher) HasProviders() bool { return true }

// fakeIdentityRepo stores drivers in memory and enforces email uniqueness.
type fakeIdentityRepo struct {
	drivers  map[string]*models.Driver
	byEmail  map[string]string
	profiles map[string]*models.DriverProfile
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		drivers:  make(map[string]*models.Driver),
		byEmail:  make(map[string]string),
		profiles: make(map[string]*models.DriverProfile),
	}
}

func (f *fakeIdentityRepo) CreateDriver(_ context.Context, driver *models.Driver) error {
	if _, exists := f.byEmail[driver.Email]; exists {
		return scylla.ErrEmailTaken
	}
	copied := *driver
	f.drivers[driver.DriverID] = &copied
	f.byEmail[driver.Email] = driver.DriverID
	return nil
}

func (f *fakeIdentityRepo) CreateProfile(_ context.Context, _ int, profile *models.DriverProfile) error {
	copied := *profile
	f.profiles[profile.DriverID] = &copied
	return nil
}
