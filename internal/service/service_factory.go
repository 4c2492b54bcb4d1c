package service

import (
	"driver-auth-service/internal/audit"
	"driver-auth-service/internal/bucketing"
	"driver-auth-service/internal/config"
	"driver-auth-service/internal/encryption"
	"driver-auth-service/internal/otp"
	"driver-auth-service/internal/util"
)

// ServiceFactory builds the two application services once and hands them out.
type ServiceFactory struct {
	otpService    *OTPService
	signupService *SignupService
}

func NewServiceFactory(
	cfg *config.Config,
	generator *otp.Generator,
	sessions SessionStore,
	limiter RateLimiter,
	dispatcher Dispatcher,
	identity IdentityRepository,
	buckets *bucketing.Manager,
	crypt *encryption.Manager,
	contacts ContactUpserter,
	events EventPublisher,
	auditor *audit.Recorder,
) *ServiceFactory {
	return &ServiceFactory{
		otpService: NewOTPService(cfg, generator, sessions, limiter, dispatcher, auditor),
		signupService: NewSignupService(cfg, generator, sessions, identity,
			buckets, crypt, contacts, events, auditor),
	}
}

func (f *ServiceFactory) OTPService() *OTPService {
	return f.otpService
}

func (f *ServiceFactory) SignupService() *SignupService {
	return f.signupService
}

// Cleanup flushes anything the services hold before shutdown.
func (f *ServiceFactory) Cleanup() {
	util.Sync()
}
