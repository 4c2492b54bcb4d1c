package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"driver-auth-service/internal/audit"
	"driver-auth-service/internal/config"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/otp"
	"driver-auth-service/internal/phone"
	"driver-auth-service/internal/sms"
	"driver-auth-service/internal/util"
)

// ServiceVersion is reported by the status endpoint.
const ServiceVersion = "1.0.0"

// SendOTPResult is what send-otp returns to the handler. DevCode is only set
// outside production when no real delivery happened or dev mode is on.
type SendOTPResult struct {
	SessionToken       string
	ExpiresIn          int
	RateLimitRemaining int
	DevCode            string
}

// VerifyOTPResult is the successful outcome of verify-otp.
type VerifyOTPResult struct {
	Verified   bool
	SignupData *models.SignupData
}

// ServiceStatus describes the OTP subsystem for the status endpoint.
type ServiceStatus struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	DevMode    bool   `json:"devMode"`
}

// OTPService orchestrates the send and verify flows. It holds no mutable
// state of its own; everything lives in the session and rate-limit stores.
type OTPService struct {
	config     *config.Config
	generator  *otp.Generator
	sessions   SessionStore
	limiter    RateLimiter
	dispatcher Dispatcher
	auditor    *audit.Recorder
	validate   *validator.Validate
}

func NewOTPService(
	cfg *config.Config,
	generator *otp.Generator,
	sessions SessionStore,
	limiter RateLimiter,
	dispatcher Dispatcher,
	auditor *audit.Recorder,
) *OTPService {
	return &OTPService{
		config:     cfg,
		generator:  generator,
		sessions:   sessions,
		limiter:    limiter,
		dispatcher: dispatcher,
		auditor:    auditor,
		validate:   validator.New(),
	}
}

// SendOTP runs the full issuance flow: normalize, throttle, generate, persist,
// dispatch. Delivery failure never aborts the flow; the session and the rate
// limit bookkeeping stand regardless.
func (s *OTPService) SendOTP(ctx context.Context, rawPhone string, signupData *models.SignupData, ip, userAgent string) (*SendOTPResult, error) {
	if strings.TrimSpace(rawPhone) == "" {
		return nil, ErrPhoneRequired
	}

	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	phoneHash := phone.Hash(canonical)

	if signupData != nil {
		signupData.FirstName = util.SanitizeInput(signupData.FirstName)
		signupData.LastName = util.SanitizeInput(signupData.LastName)
		signupData.Email = strings.ToLower(strings.TrimSpace(signupData.Email))
		signupData.ReferralCode = util.SanitizeInput(signupData.ReferralCode)

		if err := s.validate.Struct(signupData); err != nil {
			return nil, ErrInvalidSignupData
		}
	}

	decision, err := s.limiter.Allow(ctx, canonical, ip)
	if err != nil {
		util.Error("Rate limit check failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionError, err)
	}
	if !decision.Allowed {
		s.record(models.FlowSendOTP, "rate_limited", phoneHash, "", ip, userAgent)
		return nil, &RateLimitError{RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	material, err := s.generator.GenerateSecureOTP()
	if err != nil {
		util.Error("OTP generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionError, err)
	}

	now := time.Now()
	session := &models.OTPSession{
		SessionToken:      uuid.New().String(),
		Phone:             canonical,
		OTPHash:           material.Hash,
		OTPSalt:           material.Salt,
		SignupData:        signupData,
		Status:            models.SessionPending,
		AttemptsRemaining: s.config.OTP.MaxAttempts,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.config.OTP.SessionTTL),
		IP:                ip,
		UserAgent:         userAgent,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionError, err)
	}

	message := sms.FormatOTPMessage(material.Code, s.config.OTP.SessionTTL)
	delivery, sendErr := s.dispatcher.Send(ctx, canonical, message)
	delivered := sendErr == nil && delivery != nil && delivery.Delivered
	if sendErr != nil {
		util.Warn("OTP delivery failed on all providers",
			zap.String("phone_hash", phoneHash),
			zap.Error(sendErr))
	}

	result := &SendOTPResult{
		SessionToken:       session.SessionToken,
		ExpiresIn:          int(s.config.OTP.SessionTTL.Seconds()),
		RateLimitRemaining: decision.Remaining,
	}

	if s.config.IsDevelopment() && (s.config.SMS.DevMode || !delivered) {
		result.DevCode = material.Code
	}

	outcome := "sent"
	if !delivered {
		outcome = "not_delivered"
	}
	s.record(models.FlowSendOTP, outcome, phoneHash, session.SessionToken, ip, userAgent)

	util.Info("OTP session issued",
		zap.String("session_token", session.SessionToken),
		zap.String("phone_hash", phoneHash),
		zap.Bool("delivered", delivered),
		zap.Int("rate_limit_remaining", decision.Remaining))

	return result, nil
}

// VerifyOTP recomputes the candidate hash from the stored salt and delegates
// the decision to the store's atomic verify.
func (s *OTPService) VerifyOTP(ctx context.Context, sessionToken, code string) (*VerifyOTPResult, error) {
	if sessionToken == "" || code == "" {
		return nil, ErrMissingParams
	}
	if !s.generator.IsValidFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	salt, err := s.sessions.GetSalt(ctx, sessionToken)
	if err != nil {
		util.Error("Failed to load session salt", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionError, err)
	}
	if salt == "" {
		return nil, ErrSessionNotFound
	}

	candidate, err := s.generator.HashOTP(code, salt)
	if err != nil {
		return nil, ErrInvalidCodeFormat
	}

	result, err := s.sessions.VerifySession(ctx, sessionToken, candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionError, err)
	}

	s.record(models.FlowVerifyOTP, result.Code, "", sessionToken, "", "")

	switch result.Code {
	case models.VerifyOK:
		return &VerifyOTPResult{Verified: true, SignupData: result.SignupData}, nil
	case models.VerifyNotFound:
		return nil, ErrSessionNotFound
	default:
		return nil, &SessionStateError{
			Code:              result.Code,
			RemainingAttempts: result.RemainingAttempts,
		}
	}
}

// Status reports the delivery configuration for the status endpoint. No
// credentials leave this method, only the provider role name.
func (s *OTPService) Status() *ServiceStatus {
	provider := "none"
	switch {
	case s.config.PrimarySMSConfigured():
		provider = "primary"
	case s.config.FallbackSMSConfigured():
		provider = "fallback"
	}

	return &ServiceStatus{
		Service:    "otp",
		Version:    ServiceVersion,
		Provider:   provider,
		Configured: s.dispatcher.HasProviders(),
		DevMode:    s.config.SMS.DevMode,
	}
}

func (s *OTPService) record(flow, outcome, phoneHash, sessionToken, ip, userAgent string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(&models.AuditEvent{
		Flow:       flow,
		Outcome:    outcome,
		PhoneHash:  phoneHash,
		SessionRef: sessionToken,
		IP:         ip,
		UserAgent:  userAgent,
	})
}
