package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"driver-auth-service/internal/bucketing"
	"driver-auth-service/internal/encryption"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/otp"
)

func newTestSignupService() (*SignupService, *fakeSessionStore, *fakeIdentityRepo) {
	cfg := testConfig()
	sessions := newFakeSessionStore()
	identity := newFakeIdentityRepo()
	svc := NewSignupService(
		cfg,
		otp.NewGenerator(cfg),
		sessions,
		identity,
		bucketing.NewManager(cfg),
		encryption.NewManager(cfg, nil),
		nil,
		nil,
		nil,
	)
	return svc, sessions, identity
}

func seedSession(sessions *fakeSessionStore, status string, data *models.SignupData) string {
	token := uuid.New().String()
	now := time.Now()
	sessions.sessions[token] = &models.OTPSession{
		SessionToken:      token,
		Phone:             "+33611111111",
		Status:            status,
		SignupData:        data,
		AttemptsRemaining: 5,
		CreatedAt:         now,
		ExpiresAt:         now.Add(10 * time.Minute),
	}
	return token
}

func TestFinalizeSignupCreatesDriver(t *testing.T) {
	svc, sessions, identity := newTestSignupService()
	ctx := context.Background()

	token := seedSession(sessions, models.SessionVerified, &models.SignupData{
		FirstName: "Lea",
		LastName:  "Martin",
		Email:     "lea@example.com",
	})

	result, err := svc.FinalizeSignup(ctx, token, "password123")
	if err != nil {
		t.Fatalf("FinalizeSignup failed: %v", err)
	}
	if result.DriverID == "" {
		t.Fatal("expected a driver ID")
	}
	if result.Email != "lea@example.com" {
		t.Fatalf("expected email back, got %q", result.Email)
	}

	driver := identity.drivers[result.DriverID]
	if driver == nil {
		t.Fatal("driver not persisted")
	}
	if !driver.PhoneVerified {
		t.Fatal("expected phone_verified=true")
	}
	if driver.PasswordHash == "" || driver.PasswordHash == "password123" {
		t.Fatal("expected a hashed password")
	}
	if len(driver.PhoneEncrypted) == 0 {
		t.Fatal("expected encrypted phone at rest")
	}
	if identity.profiles[result.DriverID] == nil {
		t.Fatal("profile not persisted")
	}

	// The session is consumed; the token cannot be replayed.
	if sessions.sessions[token].Status != models.SessionExpired {
		t.Fatalf("expected expired session, got %q", sessions.sessions[token].Status)
	}
	if _, err := svc.FinalizeSignup(ctx, token, "password123"); !errors.Is(err, ErrSessionNotVerified) {
		t.Fatalf("expected ErrSessionNotVerified on replay, got %v", err)
	}
}

func TestFinalizeSignupRequiresVerifiedSession(t *testing.T) {
	svc, sessions, identity := newTestSignupService()
	ctx := context.Background()

	token := seedSession(sessions, models.SessionPending, &models.SignupData{Email: "x@example.com"})

	if _, err := svc.FinalizeSignup(ctx, token, "password123"); !errors.Is(err, ErrSessionNotVerified) {
		t.Fatalf("expected ErrSessionNotVerified for pending session, got %v", err)
	}
	if len(identity.drivers) != 0 {
		t.Fatal("no identity may be created from an unverified session")
	}

	if _, err := svc.FinalizeSignup(ctx, uuid.New().String(), "password123"); !errors.Is(err, ErrSessionNotVerified) {
		t.Fatalf("expected ErrSessionNotVerified for unknown token, got %v", err)
	}
}

func TestFinalizeSignupValidation(t *testing.T) {
	svc, sessions, _ := newTestSignupService()
	ctx := context.Background()

	if _, err := svc.FinalizeSignup(ctx, "", ""); !errors.Is(err, ErrMissingParams) {
		t.Fatalf("expected ErrMissingParams, got %v", err)
	}
	if _, err := svc.FinalizeSignup(ctx, "token", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	noEmail := seedSession(sessions, models.SessionVerified, &models.SignupData{FirstName: "Lea"})
	if _, err := svc.FinalizeSignup(ctx, noEmail, "password123"); !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}

	nilData := seedSession(sessions, models.SessionVerified, nil)
	if _, err := svc.FinalizeSignup(ctx, nilData, "password123"); !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("expected ErrMissingEmail for nil signup data, got %v", err)
	}
}

func TestFinalizeSignupRejectsExpiredVerifiedSession(t *testing.T) {
	svc, sessions, identity := newTestSignupService()
	ctx := context.Background()

	token := seedSession(sessions, models.SessionVerified, &models.SignupData{Email: "late@example.com"})
	sessions.sessions[token].ExpiresAt = time.Now().Add(-5 * time.Minute)

	// Verification before the deadline does not keep the session alive past it.
	if _, err := svc.FinalizeSignup(ctx, token, "password123"); !errors.Is(err, ErrSessionNotVerified) {
		t.Fatalf("expected ErrSessionNotVerified for expired session, got %v", err)
	}
	if len(identity.drivers) != 0 {
		t.Fatal("no identity may be created from an expired session")
	}
}

func TestFinalizeSignupEmailConflict(t *testing.T) {
	svc, sessions, identity := newTestSignupService()
	ctx := context.Background()

	first := seedSession(sessions, models.SessionVerified, &models.SignupData{Email: "dup@example.com"})
	if _, err := svc.FinalizeSignup(ctx, first, "password123"); err != nil {
		t.Fatalf("first finalize failed: %v", err)
	}

	second := seedSession(sessions, models.SessionVerified, &models.SignupData{Email: "dup@example.com"})
	if _, err := svc.FinalizeSignup(ctx, second, "password123"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	// The conflicting session stays verified so the caller can retry.
	if sessions.sessions[second].Status != models.SessionVerified {
		t.Fatalf("expected verified session after conflict, got %q", sessions.sessions[second].Status)
	}
	if len(identity.drivers) != 1 {
		t.Fatalf("expected exactly one driver, got %d", len(identity.drivers))
	}
}
