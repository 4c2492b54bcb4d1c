package models

import "time"

// Session status values. The state machine is pending -> verified -> expired
// on the happy path; pending -> blocked when the attempt ceiling is hit;
// pending/verified -> expired by TTL.
const (
	SessionPending  = "pending"
	SessionVerified = "verified"
	SessionBlocked  = "blocked"
	SessionExpired  = "expired"
)

// SignupData is the optional payload carried through the OTP flow. It is only
// read back if verification succeeds and the signup is finalized.
type SignupData struct {
	FirstName    string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName     string `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	ReferralCode string `json:"referralCode,omitempty" validate:"omitempty,max=32"`
}

// OTPSession is the central entity of the verification flow. The raw code is
// never part of it; only the salted, peppered hash is stored.
type OTPSession struct {
	SessionToken      string      `json:"session_token"`
	Phone             string      `json:"phone"`
	OTPHash           string      `json:"-"`
	OTPSalt           string      `json:"-"`
	SignupData        *SignupData `json:"signup_data,omitempty"`
	Status            string      `json:"status"`
	AttemptsRemaining int         `json:"attempts_remaining"`
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
	IP                string      `json:"-"`
	UserAgent         string      `json:"-"`
}

// VerifyOutcome codes returned by the atomic verify operation.
const (
	VerifyOK          = "ok"
	VerifyNotFound    = "not_found"
	VerifyExpired     = "session_expired"
	VerifyAlreadyDone = "already_verified"
	VerifyBlocked     = "session_blocked"
	VerifyInvalidCode = "invalid_code"
	VerifyMaxAttempts = "max_attempts_reached"
)

// VerifyResult is the product of one atomic verify round trip.
type VerifyResult struct {
	Success           bool
	Code              string
	RemainingAttempts int
	SignupData        *SignupData
}
