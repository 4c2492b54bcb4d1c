package models

// RateLimitDecision is the outcome of one atomic increment-and-compare against
// the (phone, ip) window.
type RateLimitDecision struct {
	Allowed           bool   `json:"allowed"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Rate limit denial reasons.
const (
	RateLimitLockedOut      = "locked_out"
	RateLimitWindowExceeded = "window_exceeded"
)
