package models

import "time"

// SignupEvent is published to Kafka when a signup is finalized. It is the
// durable consent/audit record consumed downstream.
type SignupEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	DriverID       string    `json:"driver_id"`
	Email          string    `json:"email"`
	PhoneHash      string    `json:"phone_hash"`
	ConsentAgreed  bool      `json:"consent_agreed"`
	ConsentVersion string    `json:"consent_version"`
	OccurredAt     time.Time `json:"occurred_at"`
}

const EventSignupFinalized = "signup.finalized"

// AuditEvent is the forensic trail row written to ClickHouse for every OTP
// flow step. Raw codes, hashes and salts never appear here.
type AuditEvent struct {
	EventID    string    `json:"event_id"`
	Flow       string    `json:"flow"`
	Outcome    string    `json:"outcome"`
	PhoneHash  string    `json:"phone_hash"`
	SessionRef string    `json:"session_ref"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Audit flow names.
const (
	FlowSendOTP        = "send_otp"
	FlowVerifyOTP      = "verify_otp"
	FlowFinalizeSignup = "finalize_signup"
)

// MarketingContact is the idempotent document upserted into the marketing
// contacts index, keyed by phone hash so repeated finalizations overwrite
// rather than duplicate.
type MarketingContact struct {
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	ConsentAgreed  bool      `json:"consent_agreed"`
	ConsentVersion string    `json:"consent_version"`
	Source         string    `json:"source"`
	UpdatedAt      time.Time `json:"updated_at"`
}
