package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"driver-auth-service/internal/audit"
	"driver-auth-service/internal/bucketing"
	"driver-auth-service/internal/config"
	"driver-auth-service/internal/encryption"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/otp"
	"driver-auth-service/internal/phone"
	"driver-auth-service/internal/repository/scylla"
	"driver-auth-service/internal/util"
)

const (
	minPasswordLength = 8
	consentVersion    = "2026-01"
)

// FinalizeResult is the successful outcome of finalize-signup.
type FinalizeResult struct {
	DriverID string
	Email    string
}

// SignupService promotes a verified OTP session into a durable driver
// account with its profile and consent side effects.
type SignupService struct {
	config    *config.Config
	generator *otp.Generator
	sessions  SessionStore
	identity  IdentityRepository
	buckets   *bucketing.Manager
	crypt     *encryption.Manager
	contacts  ContactUpserter
	events    EventPublisher
	auditor   *audit.Recorder
}

func NewSignupService(
	cfg *config.Config,
	generator *otp.Generator,
	sessions SessionStore,
	identity IdentityRepository,
	buckets *bucketing.Manager,
	crypt *encryption.Manager,
	contacts ContactUpserter,
	events EventPublisher,
	auditor *audit.Recorder,
) *SignupService {
	return &SignupService{
		config:    cfg,
		generator: generator,
		sessions:  sessions,
		identity:  identity,
		buckets:   buckets,
		crypt:     crypt,
		contacts:  contacts,
		events:    events,
		auditor:   auditor,
	}
}

// FinalizeSignup checks the session is verified, creates the identity and
// profile, fires the marketing and consent side effects, and retires the
// session. An email conflict surfaces as ErrEmailExists and leaves the
// session verified, so the caller may retry with different credentials.
func (s *SignupService) FinalizeSignup(ctx context.Context, sessionToken, password string) (*FinalizeResult, error) {
	if sessionToken == "" || password == "" {
		return nil, ErrMissingParams
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	session, err := s.sessions.FetchSession(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthError, err)
	}
	if session == nil || session.Status != models.SessionVerified {
		return nil, ErrSessionNotVerified
	}
	if session.SignupData == nil || session.SignupData.Email == "" {
		return nil, ErrMissingEmail
	}

	passwordHash, err := s.generator.HashPassword(password)
	if err != nil {
		util.Error("Password hashing failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthError, err)
	}

	driverID := uuid.New()
	phoneHash := phone.Hash(session.Phone)

	envelope, err := s.crypt.EncryptField(ctx, session.Phone)
	if err != nil {
		util.Error("Phone encryption failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthError, err)
	}
	encryptedPhone, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthError, err)
	}

	now := time.Now()
	driver := &models.Driver{
		DriverBucket:   s.buckets.GetDriverBucket(driverID),
		DriverID:       driverID.String(),
		Email:          session.SignupData.Email,
		PhoneHash:      phoneHash,
		PhoneEncrypted: encryptedPhone,
		PhoneKeyID:     envelope.KeyID,
		PasswordHash:   passwordHash,
		PhoneVerified:  true,
		EmailVerified:  false,
		FirstName:      session.SignupData.FirstName,
		LastName:       session.SignupData.LastName,
		ReferralCode:   session.SignupData.ReferralCode,
		ConsentAgreed:  true,
		ConsentVersion: consentVersion,
		CreatedAt:      now,
	}

	if err := s.identity.CreateDriver(ctx, driver); err != nil {
		if errors.Is(err, scylla.ErrEmailTaken) {
			s.record(models.FlowFinalizeSignup, "email_exists", phoneHash, sessionToken, session.IP, session.UserAgent)
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthError, err)
	}

	profile := &models.DriverProfile{
		DriverID:     driver.DriverID,
		FirstName:    driver.FirstName,
		LastName:     driver.LastName,
		Phone:        session.Phone,
		ReferralCode: driver.ReferralCode,
		Status:       models.ProfilePendingReview,
		CreatedAt:    now,
	}
	if err := s.identity.CreateProfile(ctx, driver.DriverBucket, profile); err != nil {
		// The identity exists; the profile can be backfilled. Not fatal.
		util.Error("Failed to create driver profile",
			zap.String("driver_id", driver.DriverID),
			zap.Error(err))
	}

	s.fireSideEffects(driver, session.Phone)

	outcome, err := s.sessions.ConsumeSession(ctx, sessionToken)
	if err != nil || outcome != "ok" {
		util.Warn("Failed to retire verified session",
			zap.String("session_token", sessionToken),
			zap.String("outcome", outcome),
			zap.Error(err))
	}

	s.record(models.FlowFinalizeSignup, "created", phoneHash, sessionToken, session.IP, session.UserAgent)

	util.Info("Driver signup finalized",
		zap.String("driver_id", driver.DriverID),
		zap.String("phone_hash", phoneHash))

	return &FinalizeResult{DriverID: driver.DriverID, Email: driver.Email}, nil
}

// fireSideEffects runs the marketing upsert and the consent event in
// parallel. Both are best-effort: downstream outages never fail the signup.
func (s *SignupService) fireSideEffects(driver *models.Driver, canonicalPhone string) {
	g := new(errgroup.Group)

	if s.contacts != nil {
		contact := &models.MarketingContact{
			Email:          driver.Email,
			Phone:          canonicalPhone,
			FirstName:      driver.FirstName,
			LastName:       driver.LastName,
			ConsentAgreed:  driver.ConsentAgreed,
			ConsentVersion: driver.ConsentVersion,
			Source:         "driver_signup",
			UpdatedAt:      time.Now().UTC(),
		}
		g.Go(func() error {
			if err := s.contacts.Upsert(contact); err != nil {
				util.Warn("Marketing contact upsert failed",
					zap.String("driver_id", driver.DriverID),
					zap.Error(err))
			}
			return nil
		})
	}

	if s.events != nil {
		event := &models.SignupEvent{
			EventID:        uuid.New().String(),
			EventType:      models.EventSignupFinalized,
			DriverID:       driver.DriverID,
			Email:          driver.Email,
			PhoneHash:      driver.PhoneHash,
			ConsentAgreed:  driver.ConsentAgreed,
			ConsentVersion: driver.ConsentVersion,
			OccurredAt:     time.Now().UTC(),
		}
		g.Go(func() error {
			payload, err := json.Marshal(event)
			if err != nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.events.ProduceMessage(ctx, s.events.SignupTopic(),
				[]byte(driver.DriverID), payload,
				map[string]string{"event_type": event.EventType})
			if err != nil {
				util.Warn("Signup event publish failed",
					zap.String("driver_id", driver.DriverID),
					zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (s *SignupService) record(flow, outcome, phoneHash, sessionToken, ip, userAgent string) {
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
