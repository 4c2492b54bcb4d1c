package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"driver-auth-service/internal/client"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/util"
)

const (
	otpRatePrefix = "otp_rate:"
	otpLockPrefix = "otp_lock:"
)

// RateLimitStore enforces the per-phone OTP request ceiling. The increment and
// the ceiling comparison run in a single Lua script, so two concurrent
// requests can never both slip under the limit.
type RateLimitStore struct {
	client  *client.RedisClient
	limit   int
	window  time.Duration
	lockout time.Duration
}

func NewRateLimitStore(redisClient *client.RedisClient, limit int, window, lockout time.Duration) *RateLimitStore {
	return &RateLimitStore{
		client:  redisClient,
		limit:   limit,
		window:  window,
		lockout: lockout,
	}
}

// rateLimitScript checks the lockout key, then increments the window counter
// and compares it to the ceiling. Crossing the ceiling installs a lockout key
// whose TTL doubles as the retry-after hint. The window is a fixed counter
// window, not a rolling one; the lockout key carries the block across window
// boundaries, which keeps the same observable ceiling per (phone, ip).
const rateLimitScript = `
local counter = KEYS[1]
local lock = KEYS[2]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])

if redis.call('EXISTS', lock) == 1 then
    local ttl = redis.call('TTL', lock)
    if ttl < 0 then
        ttl = lockout
    end
    return {0, 0, ttl, 'locked_out'}
end

local count = redis.call('INCR', counter)
if count == 1 then
    redis.call('EXPIRE', counter, window)
end

if count > limit then
    redis.call('SET', lock, '1', 'EX', lockout)
    return {0, 0, lockout, 'window_exceeded'}
end

return {1, limit - count, 0, ''}
`

// Allow records one OTP request for the (phone, ip) pair and decides whether
// it may proceed. The window and the lockout are both scoped to the pair, not
// to either key alone.
func (s *RateLimitStore) Allow(ctx context.Context, phone, ip string) (*models.RateLimitDecision, error) {
	pairKey := phone + ":" + ip
	raw, err := s.client.Eval(ctx, rateLimitScript,
		[]string{otpRatePrefix + pairKey, otpLockPrefix + pairKey},
		s.limit, int(s.window.Seconds()), int(s.lockout.Seconds()))
	if err != nil {
		util.Error("Rate limit script failed", zap.Error(err))
		return nil, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 4 {
		return nil, fmt.Errorf("unexpected result format from rate limit script")
	}

	decision := &models.RateLimitDecision{}
	if allowed, ok := reply[0].(int64); ok {
		decision.Allowed = allowed == 1
	}
	if remaining, ok := reply[1].(int64); ok {
		decision.Remaining = int(remaining)
	}
	if retryAfter, ok := reply[2].(int64); ok {
		decision.RetryAfterSeconds = int(retryAfter)
	}
	if reason, ok := reply[3].(string); ok {
		decision.Reason = reason
	}

	if !decision.Allowed {
		util.Warn("OTP request rate limited",
			zap.String("reason", decision.Reason),
			zap.Int("retry_after_seconds", decision.RetryAfterSeconds))
	}

	return decision, nil
}

// Reset clears the counter and any lockout for a (phone, ip) pair. Used by
// tests and support tooling.
func (s *RateLimitStore) Reset(ctx context.Context, phone, ip string) error {
	pairKey := phone + ":" + ip
	return s.client.Del(ctx, otpRatePrefix+pairKey, otpLockPrefix+pairKey)
}
