package sms

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"driver-auth-service/internal/config"
	"driver-auth-service/internal/util"
)

// Result reports how a dispatch ended. Delivered is false when no configured
// provider accepted the message; the caller decides what that means for the
// client-facing response.
type Result struct {
	Delivered bool
	Provider  string
}

// Dispatcher tries providers in configuration order and stops at the first
// success. An empty provider chain is valid in development and simply reports
// non-delivery.
type Dispatcher struct {
	providers []Provider
}

func NewDispatcher(providers ...Provider) *Dispatcher {
	return &Dispatcher{providers: providers}
}

// NewDispatcherFromConfig assembles the chain from configured credentials:
// primary gateway first, fallback gateway second.
func NewDispatcherFromConfig(cfg *config.Config) *Dispatcher {
	var providers []Provider

	if cfg.PrimarySMSConfigured() {
		providers = append(providers, NewHTTPProvider(
			"primary",
			cfg.SMS.PrimaryURL,
			cfg.SMS.PrimaryAPIKey,
			cfg.SMS.PrimarySender,
			cfg.SMS.RequestTimeout,
		))
	}

	if cfg.FallbackSMSConfigured() {
		providers = append(providers, NewHTTPProvider(
			"fallback",
			cfg.SMS.FallbackURL,
			cfg.SMS.FallbackAPIKey,
			cfg.SMS.FallbackSender,
			cfg.SMS.RequestTimeout,
		))
	}

	util.Info("SMS dispatcher assembled",
		zap.Int("provider_count", len(providers)))

	return NewDispatcher(providers...)
}

// Send walks the chain. It returns an error only when at least one provider
// was configured and every one of them failed; an empty chain is reported as
// Delivered=false with no error.
func (d *Dispatcher) Send(ctx context.Context, phone, message string) (*Result, error) {
	if len(d.providers) == 0 {
		util.Debug("No SMS providers configured, skipping delivery",
			zap.String("phone", phone))
		return &Result{Delivered: false}, nil
	}

	var lastErr error
	for _, provider := range d.providers {
		if err := provider.Send(ctx, phone, message); err != nil {
			lastErr = err
			util.Warn("SMS provider failed, trying next",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}
		return &Result{Delivered: true, Provider: provider.Name()}, nil
	}

	return &Result{Delivered: false}, fmt.Errorf("all sms providers failed: %w", lastErr)
}

// HasProviders reports whether any real gateway is configured.
func (d *Dispatcher) HasProviders() bool {
	return len(d.providers) > 0
}

// FormatOTPMessage renders the verification SMS body.
func FormatOTPMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Votre code de vérification est %s. Il expire dans %d minutes.",
		code, int(ttl.Minutes()))
}
