package models

import "time"

// Driver is the durable identity record created at finalize-signup. Phone and
// email are pre-confirmed by the OTP flow; the phone is stored encrypted at
// rest next to its lookup hash.
type Driver struct {
	DriverBucket   int        `json:"driver_bucket"`
	DriverID       string     `json:"driver_id"`
	Email          string     `json:"email"`
	PhoneHash      string     `json:"phone_hash"`
	PhoneEncrypted []byte     `json:"-"`
	PhoneKeyID     string     `json:"-"`
	PasswordHash   string     `json:"-"`
	PhoneVerified  bool       `json:"phone_verified"`
	EmailVerified  bool       `json:"email_verified"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	ReferralCode   string     `json:"referral_code,omitempty"`
	ConsentAgreed  bool       `json:"consent_agreed"`
	ConsentVersion string     `json:"consent_version,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// DriverProfile is the 1:1 domain profile row linked to the identity.
type DriverProfile struct {
	DriverID     string    `json:"driver_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"-"`
	ReferralCode string    `json:"referral_code,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile status values.
const (
	ProfilePendingReview = "pending_review"
	ProfileActive        = "active"
)
