package sms

import "context"

// Provider delivers one SMS message. Implementations must treat any
// transport-level failure or provider-side rejection as an error so the
// dispatcher can move on to the next provider in the chain.
type Provider interface {
	Name() string
	Send(ctx context.Context, phone, message string) error
}
