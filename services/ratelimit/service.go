package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitWindow represents the time window for rate limiting
type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
)

const keyPrefix = "ratelimit:login:"

// ErrRedisUnavailable wraps failures of the counter store.
var ErrRedisUnavailable = errors.New("rate limit store unavailable")

// Config caps login attempts per scope. A zero limit disables that window.
type Config struct {
	PerMinute int
	PerHour   int
}

// RateLimitRequest identifies one login attempt.
type RateLimitRequest struct {
	Username  string
	IPAddress string
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool
	RequestsRemaining int
	ResetAt           time.Time
	ViolatedWindow    RateLimitWindow
	ViolationReason   string
}

// RateLimitService throttles login attempts with fixed-window counters in
// redis, one set per username and one per client address.
type RateLimitService struct {
	redis  redis.Cmdable
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(client redis.Cmdable, cfg Config, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		redis:  client,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CheckLimit counts the attempt and reports whether it is within limits.
// Every call consumes one attempt in each configured window.
func (s *RateLimitService) CheckLimit(ctx context.Context, req RateLimitRequest) (*RateLimitResult, error) {
	now := s.now()
	result := &RateLimitResult{Allowed: true, RequestsRemaining: -1}

	for _, scope := range s.scopes(req) {
		for _, w := range s.windows() {
			allowed, remaining, resetAt, err := s.checkWindow(ctx, scope, w.window, now, w.limit)
			if err != nil {
				return nil, fmt.Errorf("failed to check %s window: %w", w.window, err)
			}
			if !allowed {
				s.logger.Info("login attempt throttled",
					zap.String("scope", strings.SplitN(scope, ":", 2)[0]),
					zap.String("window", string(w.window)))
				return &RateLimitResult{
					Allowed:         false,
					ResetAt:         resetAt,
					ViolatedWindow:  w.window,
					ViolationReason: fmt.Sprintf("exceeded %d login attempts per %s", w.limit, w.window),
				}, nil
			}
			if result.RequestsRemaining < 0 || remaining < result.RequestsRemaining {
				result.RequestsRemaining = remaining
				result.ResetAt = resetAt
			}
		}
	}

	return result, nil
}

// Reset clears the username counters, typically after a successful login.
// Address counters are left alone.
func (s *RateLimitService) Reset(ctx context.Context, username string) error {
	now := s.now()
	scope := userScope(username)

	keys := make([]string, 0, 2)
	for _, w := range s.windows() {
		keys = append(keys, windowKey(scope, w.window, now))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetCurrentUsage returns the attempts counted for username in the
// current windows.
func (s *RateLimitService) GetCurrentUsage(ctx context.Context, username string) (*UsageStats, error) {
	now := s.now()
	scope := userScope(username)

	minute, err := s.count(ctx, windowKey(scope, WindowMinute, now))
	if err != nil {
		return nil, err
	}
	hour, err := s.count(ctx, windowKey(scope, WindowHour, now))
	if err != nil {
		return nil, err
	}
	return &UsageStats{AttemptsThisMinute: minute, AttemptsThisHour: hour}, nil
}

// UsageStats represents current usage statistics
type UsageStats struct {
	AttemptsThisMinute int
	AttemptsThisHour   int
}

type windowLimit struct {
	window RateLimitWindow
	limit  int
}

func (s *RateLimitService) windows() []windowLimit {
	var out []windowLimit
	if s.config.PerMinute > 0 {
		out = append(out, windowLimit{WindowMinute, s.config.PerMinute})
	}
	if s.config.PerHour > 0 {
		out = append(out, windowLimit{WindowHour, s.config.PerHour})
	}
	return out
}

func (s *RateLimitService) scopes(req RateLimitRequest) []string {
	scopes := make([]string, 0, 2)
	if req.Username != "" {
		scopes = append(scopes, userScope(req.Username))
	}
	if host := clientHost(req.IPAddress); host != "" {
		scopes = append(scopes, "ip:"+host)
	}
	return scopes
}

// checkWindow increments the counter of the window containing now.
func (s *RateLimitService) checkWindow(ctx context.Context, scope string, window RateLimitWindow, now time.Time, limit int) (allowed bool, remaining int, resetAt time.Time, err error) {
	_, resetAt = getWindowBounds(now, window)
	key := windowKey(scope, window, now)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, resetAt, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.ExpireAt(ctx, key, resetAt).Err(); err != nil {
			return false, 0, resetAt, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(limit) {
		return false, 0, resetAt, nil
	}
	return true, limit - int(count), resetAt, nil
}

func (s *RateLimitService) count(ctx context.Context, key string) (int, error) {
	n, err := s.redis.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// getWindowBounds returns the start and reset time for a time window
func getWindowBounds(now time.Time, window RateLimitWindow) (start time.Time, reset time.Time) {
	switch window {
	case WindowHour:
		start = now.Truncate(time.Hour)
		reset = start.Add(time.Hour)
	default:
		start = now.Truncate(time.Minute)
		reset = start.Add(time.Minute)
	}
	return start, reset
}

func windowKey(scope string, window RateLimitWindow, now time.Time) string {
	start, _ := getWindowBounds(now, window)
	return fmt.Sprintf("%s%s:%s:%d", keyPrefix, scope, window, start.Unix())
}

// userScope folds case so that ALICE and alice share a budget.
func userScope(username string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(username))
}

// clientHost strips the port from a RemoteAddr style address.
func clientHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
