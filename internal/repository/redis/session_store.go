package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"driver-auth-service/internal/client"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/util"
)

const sessionPrefix = "otp_session:"

// SessionStore keeps OTP sessions as Redis hashes. Every state transition
// happens server-side in a Lua script so concurrent verify calls cannot
// interleave between the read and the write.
type SessionStore struct {
	client      *client.RedisClient
	sessionTTL  time.Duration
	maxAttempts int
}

func NewSessionStore(redisClient *client.RedisClient, sessionTTL time.Duration, maxAttempts int) *SessionStore {
	return &SessionStore{
		client:      redisClient,
		sessionTTL:  sessionTTL,
		maxAttempts: maxAttempts,
	}
}

func sessionKey(token string) string {
	return sessionPrefix + token
}

// CreateSession persists a fresh pending session. The hash key lives twice as
// long as the session itself so an expired session still answers with
// session_expired instead of vanishing into not_found.
func (s *SessionStore) CreateSession(ctx context.Context, session *models.OTPSession) error {
	key := sessionKey(session.SessionToken)

	signupData := ""
	if session.SignupData != nil {
		encoded, err := json.Marshal(session.SignupData)
		if err != nil {
			return fmt.Errorf("failed to encode signup data: %w", err)
		}
		signupData = string(encoded)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"phone", session.Phone,
		"otp_hash", session.OTPHash,
		"otp_salt", session.OTPSalt,
		"signup_data", signupData,
		"status", session.Status,
		"attempts_remaining", session.AttemptsRemaining,
		"created_at", session.CreatedAt.Unix(),
		"expires_at", session.ExpiresAt.Unix(),
		"ip", session.IP,
		"user_agent", session.UserAgent,
	)
	pipe.Expire(ctx, key, 2*s.sessionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create OTP session",
			zap.String("session_token", session.SessionToken),
			zap.Error(err))
		return fmt.Errorf("failed to create OTP session: %w", err)
	}

	util.Debug("OTP session created",
		zap.String("session_token", session.SessionToken),
		zap.Time("expires_at", session.ExpiresAt))

	return nil
}

// verifyScript performs the whole verification decision in one server-side
// execution: liveness and status checks, logical expiry, hash comparison,
// attempt decrement and blocking. ARGV[1] is the candidate hash computed from
// the submitted code and the stored salt; ARGV[2] is the caller's clock.
const verifyScript = `
local key = KEYS[1]
local candidate = ARGV[1]
local now = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
    return {'not_found', 0, ''}
end

local status = redis.call('HGET', key, 'status')
if status == 'verified' then
    return {'already_verified', 0, ''}
end
if status == 'blocked' then
    return {'session_blocked', 0, ''}
end

local expires_at = tonumber(redis.call('HGET', key, 'expires_at')) or 0
if status == 'expired' or now >= expires_at then
    redis.call('HSET', key, 'status', 'expired')
    return {'session_expired', 0, ''}
end

local stored = redis.call('HGET', key, 'otp_hash')
if stored == candidate then
    redis.call('HSET', key, 'status', 'verified')
    local data = redis.call('HGET', key, 'signup_data')
    return {'ok', 0, data or ''}
end

local remaining = redis.call('HINCRBY', key, 'attempts_remaining', -1)
if remaining <= 0 then
    redis.call('HSET', key, 'status', 'blocked', 'attempts_remaining', 0)
    return {'max_attempts_reached', 0, ''}
end
return {'invalid_code', remaining, ''}
`

// GetSalt reads the stored salt so the caller can derive the candidate hash.
// A missing session returns ("", nil). The decision itself still happens
// inside VerifySession; a session deleted between the two calls resolves to
// not_found there.
func (s *SessionStore) GetSalt(ctx context.Context, sessionToken string) (string, error) {
	salt, err := s.client.Client.HGet(ctx, sessionKey(sessionToken), "otp_salt").Result()
	if err != nil {
		if err == goredis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session salt: %w", err)
	}
	return salt, nil
}

// VerifySession runs the atomic verify script and maps its reply onto a
// VerifyResult.
func (s *SessionStore) VerifySession(ctx context.Context, sessionToken, candidateHash string) (*models.VerifyResult, error) {
	raw, err := s.client.Eval(ctx, verifyScript,
		[]string{sessionKey(sessionToken)},
		candidateHash, time.Now().Unix())
	if err != nil {
		util.Error("Verify script failed",
			zap.String("session_token", sessionToken),
			zap.Error(err))
		return nil, fmt.Errorf("failed to execute verify script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 3 {
		return nil, fmt.Errorf("unexpected result format from verify script")
	}

	code, _ := reply[0].(string)
	remaining := 0
	if n, ok := reply[1].(int64); ok {
		remaining = int(n)
	}

	result := &models.VerifyResult{
		Success:           code == models.VerifyOK,
		Code:              code,
		RemainingAttempts: remaining,
	}

	if result.Success {
		if encoded, ok := reply[2].(string); ok && encoded != "" {
			var data models.SignupData
			if err := json.Unmarshal([]byte(encoded), &data); err != nil {
				util.Warn("Failed to decode signup data from session",
					zap.String("session_token", sessionToken),
					zap.Error(err))
			} else {
				result.SignupData = &data
			}
		}
	}

	util.Debug("OTP verification attempt",
		zap.String("session_token", sessionToken),
		zap.String("outcome", code),
		zap.Int("remaining_attempts", remaining))

	return result, nil
}

// FetchSession loads a full session for the status endpoint and for signup
// finalization. A missing key returns (nil, nil).
func (s *SessionStore) FetchSession(ctx context.Context, sessionToken string) (*models.OTPSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionToken))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	session := &models.OTPSession{
		SessionToken: sessionToken,
		Phone:        fields["phone"],
		OTPHash:      fields["otp_hash"],
		OTPSalt:      fields["otp_salt"],
		Status:       fields["status"],
		IP:           fields["ip"],
		UserAgent:    fields["user_agent"],
	}

	if n, err := strconv.Atoi(fields["attempts_remaining"]); err == nil {
		session.AttemptsRemaining = n
	}
	if ts, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		session.CreatedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		session.ExpiresAt = time.Unix(ts, 0)
	}

	if encoded := fields["signup_data"]; encoded != "" {
		var data models.SignupData
		if err := json.Unmarshal([]byte(encoded), &data); err == nil {
			session.SignupData = &data
		}
	}

	// Logical expiry wins over whatever status the hash still carries. A
	// session verified before its deadline is still dead after it.
	if session.Status != models.SessionExpired && time.Now().After(session.ExpiresAt) {
		session.Status = models.SessionExpired
	}

	return session, nil
}

// consumeScript retires a verified session after its signup has been
// finalized, so the token cannot be replayed into a second account. A session
// past its logical deadline is never consumable, whatever its status says.
const consumeScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
if redis.call('EXISTS', key) == 0 then
    return 'not_found'
end
local expires_at = tonumber(redis.call('HGET', key, 'expires_at')) or 0
if now >= expires_at then
    redis.call('HSET', key, 'status', 'expired')
    return 'expired'
end
local status = redis.call('HGET', key, 'status')
if status ~= 'verified' then
    return status
end
redis.call('HSET', key, 'status', 'expired')
return 'ok'
`

// ConsumeSession marks a verified session expired. Returns the session status
// when the transition was not possible.
func (s *SessionStore) ConsumeSession(ctx context.Context, sessionToken string) (string, error) {
	raw, err := s.client.Eval(ctx, consumeScript, []string{sessionKey(sessionToken)}, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to consume session: %w", err)
	}
	outcome, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unexpected result format from consume script")
	}
	return outcome, nil
}

// DeleteSession removes a session outright. Used by tests and admin tooling.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionToken string) error {
	return s.client.Del(ctx, sessionKey(sessionToken))
}
