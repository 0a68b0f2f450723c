package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const principalKeyPrefix = "principal:"

// PrincipalService resolves token subjects to accounts for the
// authentication gate, optionally through a redis read-through cache.
// Cached entries never include the password hash.
type PrincipalService struct {
	users  repositories.UserRepository
	cache  redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewPrincipalService creates a PrincipalService. A nil cache or a
// non-positive ttl disables caching.
func NewPrincipalService(users repositories.UserRepository, cache redis.Cmdable, ttl time.Duration, logger *zap.Logger) *PrincipalService {
	if ttl <= 0 {
		cache = nil
	}
	return &PrincipalService{
		users:  users,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// FindBySubject returns the account for subject. Misses are not cached and
// cache failures fall back to the store.
func (s *PrincipalService) FindBySubject(ctx context.Context, subject string) (*models.User, error) {
	if s.cache != nil {
		if user, ok := s.cached(ctx, subject); ok {
			return user, nil
		}
	}

	user, err := s.users.FindBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.store(ctx, subject, user)
	}
	return user, nil
}

// Invalidate drops the cached entry for subject.
func (s *PrincipalService) Invalidate(ctx context.Context, subject string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Del(ctx, principalKeyPrefix+subject).Err(); err != nil {
		return fmt.Errorf("invalidate principal: %w", err)
	}
	return nil
}

// Ping reports whether the cache is reachable. It is nil when caching is off.
func (s *PrincipalService) Ping(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Ping(ctx).Err(); err != nil {
		return ErrCacheUnavailable.Wrap(err)
	}
	return nil
}

func (s *PrincipalService) cached(ctx context.Context, subject string) (*models.User, bool) {
	data, err := s.cache.Get(ctx, principalKeyPrefix+subject).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("principal cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		s.logger.Warn("discarding undecodable principal cache entry", zap.Error(err))
		return nil, false
	}
	return &user, true
}

func (s *PrincipalService) store(ctx context.Context, subject string, user *models.User) {
	data, err := json.Marshal(user)
	if err != nil {
		s.logger.Warn("principal cache encode failed", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, principalKeyPrefix+subject, data, s.ttl).Err(); err != nil {
		s.logger.Warn("principal cache write failed", zap.Error(err))
	}
}
