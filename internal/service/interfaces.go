package service

import (
	"context"

	"driver-auth-service/internal/models"
	"driver-auth-service/internal/sms"
)

// SessionStore is the contract the services mutate session state through.
// Every mutation behind it is a single atomic store-side operation.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.OTPSession) error
	GetSalt(ctx context.Context, sessionToken string) (string, error)
	VerifySession(ctx context.Context, sessionToken, candidateHash string) (*models.VerifyResult, error)
	FetchSession(ctx context.Context, sessionToken string) (*models.OTPSession, error)
	ConsumeSession(ctx context.Context, sessionToken string) (string, error)
}

// RateLimiter throttles send-otp per (phone, ip) pair.
type RateLimiter interface {
	Allow(ctx context.Context, phone, ip string) (*models.RateLimitDecision, error)
}

// Dispatcher delivers the verification SMS through the provider chain.
type Dispatcher interface {
	Send(ctx context.Context, phone, message string) (*sms.Result, error)
	HasProviders() bool
}

// IdentityRepository persists the durable driver identity and profile.
type IdentityRepository interface {
	CreateDriver(ctx context.Context, driver *models.Driver) error
	CreateProfile(ctx context.Context, bucket int, profile *models.DriverProfile) error
}

// ContactUpserter registers the idempotent marketing-contact side effect.
type ContactUpserter interface {
	Upsert(contact *models.MarketingContact) error
}

// EventPublisher emits the signup consent event.
type EventPublisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	SignupTopic() string
}
