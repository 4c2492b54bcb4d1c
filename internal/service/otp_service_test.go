package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"driver-auth-service/internal/models"
	"driver-auth-service/internal/otp"
)

func newTestOTPService() (*OTPService, *fakeSessionStore, *fakeRateLimiter, *fakeDispatcher) {
	cfg := testConfig()
	sessions := newFakeSessionStore()
	limiter := newFakeRateLimiter(5, 1800)
	dispatcher := &fakeDispatcher{}
	svc := NewOTPService(cfg, otp.NewGenerator(cfg), sessions, limiter, dispatcher, nil)
	return svc, sessions, limiter, dispatcher
}

func TestSendOTPIssuesSession(t *testing.T) {
	svc, sessions, _, dispatcher := newTestOTPService()

	result, err := svc.SendOTP(context.Background(), "06 12 34 56 78", nil, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if result.SessionToken == "" {
		t.Fatal("expected a session token")
	}
	if result.ExpiresIn != 600 {
		t.Fatalf("expected expiresIn 600, got %d", result.ExpiresIn)
	}
	if result.RateLimitRemaining != 4 {
		t.Fatalf("expected 4 remaining, got %d", result.RateLimitRemaining)
	}
	if result.DevCode == "" {
		t.Fatal("expected devCode in development with no providers")
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(dispatcher.sent))
	}

	session := sessions.sessions[result.SessionToken]
	if session == nil {
		t.Fatal("session not persisted")
	}
	if session.Phone != "+33612345678" {
		t.Fatalf("expected canonical phone, got %q", session.Phone)
	}
	if session.Status != models.SessionPending {
		t.Fatalf("expected pending status, got %q", session.Status)
	}
	if session.AttemptsRemaining != 5 {
		t.Fatalf("expected 5 attempts, got %d", session.AttemptsRemaining)
	}
}

func TestSendOTPRejectsBadPhones(t *testing.T) {
	svc, _, _, _ := newTestOTPService()

	if _, err := svc.SendOTP(context.Background(), "", nil, "10.0.0.1", ""); !errors.Is(err, ErrPhoneRequired) {
		t.Fatalf("expected ErrPhoneRequired, got %v", err)
	}
	if _, err := svc.SendOTP(context.Background(), "0123456789", nil, "10.0.0.1", ""); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone for landline, got %v", err)
	}
}

func TestSendOTPSurvivesDeliveryFailure(t *testing.T) {
	cfg := testConfig()
	sessions := newFakeSessionStore()
	svc := NewOTPService(cfg, otp.NewGenerator(cfg), sessions,
		newFakeRateLimiter(5, 1800), brokenDispatcher{}, nil)

	result, err := svc.SendOTP(context.Background(), "+33611111111", nil, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SendOTP must not fail on delivery errors: %v", err)
	}
	if result.DevCode == "" {
		t.Fatal("expected devCode when nothing was delivered in development")
	}
	if sessions.sessions[result.SessionToken] == nil {
		t.Fatal("session must be persisted despite the delivery failure")
	}
}

func TestSendOTPRateLimit(t *testing.T) {
	svc, _, _, _ := newTestOTPService()
	ctx := context.Background()

	wantRemaining := []int{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		result, err := svc.SendOTP(ctx, "+33611111111", nil, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
		if result.RateLimitRemaining != want {
			t.Fatalf("call %d: expected remaining %d, got %d", i+1, want, result.RateLimitRemaining)
		}
	}

	_, err := svc.SendOTP(ctx, "+33611111111", nil, "10.0.0.1", "")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError on 6th call, got %v", err)
	}
	if rateErr.RetryAfterSeconds <= 0 {
		t.Fatalf("expected positive retryAfter, got %d", rateErr.RetryAfterSeconds)
	}
}

func TestVerifyOTPSucceedsExactlyOnce(t *testing.T) {
	svc, _, _, _ := newTestOTPService()
	ctx := context.Background()

	signup := &models.SignupData{FirstName: "Lea", Email: "lea@example.com"}
	sent, err := svc.SendOTP(ctx, "+33611111111", signup, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	result, err := svc.VerifyOTP(ctx, sent.SessionToken, sent.DevCode)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
	if result.SignupData == nil || result.SignupData.Email != "lea@example.com" {
		t.Fatalf("expected signup data back, got %+v", result.SignupData)
	}

	// Replaying the correct code must not succeed a second time.
	_, err = svc.VerifyOTP(ctx, sent.SessionToken, sent.DevCode)
	var stateErr *SessionStateError
	if !errors.As(err, &stateErr) || stateErr.Code != models.VerifyAlreadyDone {
		t.Fatalf("expected already_verified on replay, got %v", err)
	}
}

func TestVerifyOTPWrongCodeCountsDown(t *testing.T) {
	svc, _, _, _ := newTestOTPService()
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "+33611111111", nil, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	wrong := "000000"
	if wrong == sent.DevCode {
		wrong = "000001"
	}

	for attempt := 1; attempt <= 4; attempt++ {
		_, err := svc.VerifyOTP(ctx, sent.SessionToken, wrong)
		var stateErr *SessionStateError
		if !errors.As(err, &stateErr) {
			t.Fatalf("attempt %d: expected state error, got %v", attempt, err)
		}
		if stateErr.Code != models.VerifyInvalidCode {
			t.Fatalf("attempt %d: expected invalid_code, got %q", attempt, stateErr.Code)
		}
		if stateErr.RemainingAttempts != 5-attempt {
			t.Fatalf("attempt %d: expected %d remaining, got %d", attempt, 5-attempt, stateErr.RemainingAttempts)
		}
	}

	// 5th wrong code exhausts the ceiling.
	_, err = svc.VerifyOTP(ctx, sent.SessionToken, wrong)
	var stateErr *SessionStateError
	if !errors.As(err, &stateErr) || stateErr.Code != models.VerifyMaxAttempts {
		t.Fatalf("expected max_attempts_reached, got %v", err)
	}

	// 6th attempt is blocked even with the correct code.
	_, err = svc.VerifyOTP(ctx, sent.SessionToken, sent.DevCode)
	if !errors.As(err, &stateErr) || stateErr.Code != models.VerifyBlocked {
		t.Fatalf("expected session_blocked, got %v", err)
	}
}

func TestVerifyOTPExpiredSession(t *testing.T) {
	svc, sessions, _, _ := newTestOTPService()
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "+33611111111", nil, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	sessions.sessions[sent.SessionToken].ExpiresAt = time.Now().Add(-5 * time.Minute)

	// The correct code is worthless once the session lifetime is over.
	_, err = svc.VerifyOTP(ctx, sent.SessionToken, sent.DevCode)
	var stateErr *SessionStateError
	if !errors.As(err, &stateErr) || stateErr.Code != models.VerifyExpired {
		t.Fatalf("expected session_expired, got %v", err)
	}
	if sessions.sessions[sent.SessionToken].Status != models.SessionExpired {
		t.Fatalf("expected expired status, got %q", sessions.sessions[sent.SessionToken].Status)
	}
}

func TestVerifyOTPValidation(t *testing.T) {
	svc, _, _, _ := newTestOTPService()
	ctx := context.Background()

	if _, err := svc.VerifyOTP(ctx, "", "123456"); !errors.Is(err, ErrMissingParams) {
		t.Fatalf("expected ErrMissingParams, got %v", err)
	}
	if _, err := svc.VerifyOTP(ctx, "some-token", "12345"); !errors.Is(err, ErrInvalidCodeFormat) {
		t.Fatalf("expected ErrInvalidCodeFormat for short code, got %v", err)
	}
	if _, err := svc.VerifyOTP(ctx, "some-token", "12345a"); !errors.Is(err, ErrInvalidCodeFormat) {
		t.Fatalf("expected ErrInvalidCodeFormat for non-digits, got %v", err)
	}
	if _, err := svc.VerifyOTP(ctx, "unknown-token", "123456"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStatusReportsConfiguration(t *testing.T) {
	svc, _, _, _ := newTestOTPService()

	status := svc.Status()
	if status.Service != "otp" {
		t.Fatalf("expected service otp, got %q", status.Service)
	}
	if status.Configured {
		t.Fatal("expected configured=false with no providers")
	}
	if status.Provider != "none" {
		t.Fatalf("expected provider none, got %q", status.Provider)
	}
}
