package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"driver-auth-service/internal/bucketing"
	"driver-auth-service/internal/config"
	"driver-auth-service/internal/encryption"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/otp"
	"driver-auth-service/internal/service"
	"driver-auth-service/internal/sms"
	"driver-auth-service/internal/util"
)

type memSessions struct {
	sessions map[string]*models.OTPSession
}

func (m *memSessions) CreateSession(_ context.Context, s *models.OTPSession) error {
	copied := *s
	m.sessions[s.SessionToken] = &copied
	return nil
}

func (m *memSessions) GetSalt(_ context.Context, token string) (string, error) {
	s, ok := m.sessions[token]
	if !ok {
		return "", nil
	}
	return s.OTPSalt, nil
}

func (m *memSessions) VerifySession(_ context.Context, token, candidate string) (*models.VerifyResult, error) {
	s, ok := m.sessions[token]
	if !ok {
		return &models.VerifyResult{Code: models.VerifyNotFound}, nil
	}
	switch {
	case s.Status == models.SessionVerified:
		return &models.VerifyResult{Code: models.VerifyAlreadyDone}, nil
	case s.Status == models.SessionBlocked:
		return &models.VerifyResult{Code: models.VerifyBlocked}, nil
	case s.Status == models.SessionExpired || !time.Now().Before(s.ExpiresAt):
		s.Status = models.SessionExpired
		return &models.VerifyResult{Code: models.VerifyExpired}, nil
	case candidate == s.OTPHash:
		s.Status = models.SessionVerified
		return &models.VerifyResult{Success: true, Code: models.VerifyOK, SignupData: s.SignupData}, nil
	}
	s.AttemptsRemaining--
	if s.AttemptsRemaining <= 0 {
		s.AttemptsRemaining = 0
		s.Status = models.SessionBlocked
		return &models.VerifyResult{Code: models.VerifyMaxAttempts}, nil
	}
	return &models.VerifyResult{Code: models.VerifyInvalidCode, RemainingAttempts: s.AttemptsRemaining}, nil
}

func (m *memSessions) FetchSession(_ context.Context, token string) (*models.OTPSession, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, nil
	}
	copied := *s
	if copied.Status != models.SessionExpired && time.Now().After(copied.ExpiresAt) {
		copied.Status = models.SessionExpired
	}
	return &copied, nil
}

func (m *memSessions) ConsumeSession(_ context.Context, token string) (string, error) {
	s, ok := m.sessions[token]
	if !ok {
		return "not_found", nil
	}
	if time.Now().After(s.ExpiresAt) {
		s.Status = models.SessionExpired
		return "expired", nil
	}
	if s.Status != models.SessionVerified {
		return s.Status, nil
	}
	s.Status = models.SessionExpired
	return "ok", nil
}

type memLimiter struct {
	counts map[string]int
	limit  int
}

func (m *memLimiter) Allow(_ context.Context, phone, ip string) (*models.RateLimitDecision, error) {
	key := phone + ":" + ip
	m.counts[key]++
	if m.counts[key] > m.limit {
		return &models.RateLimitDecision{RetryAfterSeconds: 1800}, nil
	}
	return &models.RateLimitDecision{Allowed: true, Remaining: m.limit - m.counts[key]}, nil
}

type memIdentity struct {
	byEmail map[string]string
}

func (m *memIdentity) CreateDriver(_ context.Context, d *models.Driver) error {
	m.byEmail[d.Email] = d.DriverID
	return nil
}

func (m *memIdentity) CreateProfile(_ context.Context, _ int, _ *models.DriverProfile) error {
	return nil
}

type silentDispatcher struct{}

func (silentDispatcher) Send(_ context.Context, _, _ string) (*sms.Result, error) {
	return &sms.Result{Delivered: false}, nil
}

func (silentDispatcher) HasProviders() bool { return false }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		OTP: config.OTPConfig{
			CodeLength:  6,
			SessionTTL:  10 * time.Minute,
			MaxAttempts: 5,
			Pepper:      "test-pepper",
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{DriverBuckets: 64, EventBuckets: 16},
	}

	generator := otp.NewGenerator(cfg)
	sessions := &memSessions{sessions: make(map[string]*models.OTPSession)}
	limiter := &memLimiter{counts: make(map[string]int), limit: 5}

	otpService := service.NewOTPService(cfg, generator, sessions, limiter, silentDispatcher{}, nil)
	signupService := service.NewSignupService(cfg, generator, sessions,
		&memIdentity{byEmail: make(map[string]string)},
		bucketing.NewManager(cfg), encryption.NewManager(cfg, nil),
		nil, nil, nil)

	router := NewRouter(NewOTPHandler(otpService, signupService), util.Get())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestSendOTPEndpoint(t *testing.T) {
	server := newTestServer(t)

	status, body := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
		"phone": "0611111111",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true: %v", body)
	}
	if body["sessionToken"] == "" || body["sessionToken"] == nil {
		t.Fatal("expected a sessionToken")
	}
	if body["expiresIn"] != float64(600) {
		t.Fatalf("expected expiresIn 600, got %v", body["expiresIn"])
	}
	if body["rateLimitRemaining"] != float64(4) {
		t.Fatalf("expected rateLimitRemaining 4, got %v", body["rateLimitRemaining"])
	}
	if body["devCode"] == nil {
		t.Fatal("expected devCode in development mode")
	}
}

func TestSendOTPEndpointRejectsInvalidPhone(t *testing.T) {
	server := newTestServer(t)

	status, body := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
		"phone": "0811111111",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if body["error"] != "INVALID_PHONE" {
		t.Fatalf("expected INVALID_PHONE, got %v", body["error"])
	}

	status, body = postJSON(t, server.URL+"/send-otp", map[string]interface{}{})
	if status != http.StatusBadRequest || body["error"] != "PHONE_REQUIRED" {
		t.Fatalf("expected 400 PHONE_REQUIRED, got %d %v", status, body["error"])
	}
}

func TestSendOTPEndpointRateLimit(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 5; i++ {
		status, _ := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
			"phone": "+33611111111",
		})
		if status != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, status)
		}
	}

	status, body := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
		"phone": "+33611111111",
	})
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if body["error"] != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %v", body["error"])
	}
	if retry, ok := body["retryAfter"].(float64); !ok || retry <= 0 {
		t.Fatalf("expected positive retryAfter, got %v", body["retryAfter"])
	}
}

func TestVerifyOTPEndpoint(t *testing.T) {
	server := newTestServer(t)

	_, sent := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
		"phone":      "0611111111",
		"signupData": map[string]string{"firstName": "Lea", "email": "lea@example.com"},
	})
	token := sent["sessionToken"].(string)
	code := sent["devCode"].(string)

	status, body := postJSON(t, server.URL+"/verify-otp", map[string]interface{}{
		"sessionToken": "no-such-token",
		"code":         code,
	})
	if status != http.StatusNotFound || body["error"] != "SESSION_NOT_FOUND" {
		t.Fatalf("expected 404 SESSION_NOT_FOUND, got %d %v", status, body["error"])
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	status, body = postJSON(t, server.URL+"/verify-otp", map[string]interface{}{
		"sessionToken": token,
		"code":         wrong,
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_code" {
		t.Fatalf("expected 400 invalid_code, got %d %v", status, body["error"])
	}
	if body["remainingAttempts"] != float64(4) {
		t.Fatalf("expected 4 remaining attempts, got %v", body["remainingAttempts"])
	}

	status, body = postJSON(t, server.URL+"/verify-otp", map[string]interface{}{
		"sessionToken": token,
		"code":         code,
	})
	if status != http.StatusOK || body["verified"] != true {
		t.Fatalf("expected verified, got %d %v", status, body)
	}
	signupData := body["signupData"].(map[string]interface{})
	if signupData["email"] != "lea@example.com" {
		t.Fatalf("expected signup data back, got %v", signupData)
	}
}

func TestFinalizeSignupEndpoint(t *testing.T) {
	server := newTestServer(t)

	_, sent := postJSON(t, server.URL+"/send-otp", map[string]interface{}{
		"phone":      "0611111111",
		"signupData": map[string]string{"email": "lea@example.com"},
	})
	token := sent["sessionToken"].(string)
	code := sent["devCode"].(string)

	// Finalizing before verification must never create an identity.
	status, body := postJSON(t, server.URL+"/finalize-signup", map[string]interface{}{
		"sessionToken": token,
		"password":     "password123",
	})
	if status != http.StatusBadRequest || body["error"] != "SESSION_NOT_VERIFIED" {
		t.Fatalf("expected 400 SESSION_NOT_VERIFIED, got %d %v", status, body["error"])
	}

	postJSON(t, server.URL+"/verify-otp", map[string]interface{}{
		"sessionToken": token,
		"code":         code,
	})

	status, body = postJSON(t, server.URL+"/finalize-signup", map[string]interface{}{
		"sessionToken": token,
		"password":     "short",
	})
	if status != http.StatusBadRequest || body["error"] != "WEAK_PASSWORD" {
		t.Fatalf("expected 400 WEAK_PASSWORD, got %d %v", status, body["error"])
	}

	status, body = postJSON(t, server.URL+"/finalize-signup", map[string]interface{}{
		"sessionToken": token,
		"password":     "password123",
	})
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("expected 200 success, got %d %v", status, body)
	}
	if body["userId"] == nil || body["email"] != "lea@example.com" {
		t.Fatalf("expected userId and email, got %v", body)
	}

	// The consumed token cannot finalize a second account.
	status, body = postJSON(t, server.URL+"/finalize-signup", map[string]interface{}{
		"sessionToken": token,
		"password":     "password123",
	})
	if status != http.StatusBadRequest || body["error"] != "SESSION_NOT_VERIFIED" {
		t.Fatalf("expected 400 SESSION_NOT_VERIFIED on replay, got %d %v", status, body["error"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/otp/status")
	if err != nil {
		t.Fatalf("GET /otp/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service"] != "otp" {
		t.Fatalf("expected service otp, got %v", body["service"])
	}
	if body["configured"] != false {
		t.Fatalf("expected configured=false, got %v", body["configured"])
	}
	if body["devMode"] != false {
		t.Fatalf("expected devMode=false, got %v", body["devMode"])
	}
}
