package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the OTP and signup services. The handlers map
// each one onto its HTTP status and error code.
var (
	ErrPhoneRequired      = errors.New("phone number is required")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidSignupData  = errors.New("invalid signup data")
	ErrSessionError       = errors.New("failed to create verification session")
	ErrMissingParams      = errors.New("missing required parameters")
	ErrInvalidCodeFormat  = errors.New("invalid code format")
	ErrSessionNotFound    = errors.New("verification session not found")
	ErrWeakPassword       = errors.New("password does not meet minimum length")
	ErrSessionNotVerified = errors.New("session is not verified")
	ErrMissingEmail       = errors.New("signup data carries no email")
	ErrEmailExists        = errors.New("email already registered")
	ErrAuthError          = errors.New("failed to create account")
)

// RateLimitError carries the retry-after hint alongside the rejection.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// SessionStateError reports a verify attempt rejected by the session state
// machine. Code is one of session_expired, already_verified, session_blocked,
// invalid_code or max_attempts_reached.
type SessionStateError struct {
	Code              string
	RemainingAttempts int
}

func (e *SessionStateError) Error() string {
	return e.Code
}
