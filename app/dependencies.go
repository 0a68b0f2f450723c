package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iesalixar/ticket-logger-api/config"
	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/keys"
	"github.com/iesalixar/ticket-logger-api/middleware"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/iesalixar/ticket-logger-api/repositories/postgres"
	"github.com/iesalixar/ticket-logger-api/services"
	"github.com/iesalixar/ticket-logger-api/services/audit"
	"github.com/iesalixar/ticket-logger-api/services/ratelimit"
	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cachePingTimeout    = 5 * time.Second
	defaultAuditTimeout = 10 * time.Second
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users      repositories.UserRepository
	AuthEvents repositories.AuthEventRepository
	TxManager  repositories.TransactionManager

	// Token material
	Keys  *keys.KeyPair
	Codec *token.Codec

	// Services
	Metrics     *observability.AuthMetrics
	Audit       *audit.AuditService
	Principals  *services.PrincipalService
	Limiter     *ratelimit.RateLimitService
	AuthService *services.AuthService

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies loads the signing key, opens the database and the
// optional cache, and wires every service. A keystore that cannot be read
// is fatal.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	kp, err := keys.Load(cfg.JWT.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := newDependencies(ctx, cfg, kp, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// newDependencies wires everything around an already opened database.
func newDependencies(ctx context.Context, cfg *config.Config, kp *keys.KeyPair, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Keys:        kp,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if cfg.Database.InitSchema {
		if err := deps.DB.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	deps.initRepositories()

	if err := deps.initCache(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := deps.initAuth(); err != nil {
		_ = deps.closeCache()
		return nil, err
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("key_id", kp.KeyID()),
		zap.Bool("cache_enabled", deps.Redis != nil),
		zap.Bool("metrics_enabled", deps.Metrics != nil),
		zap.Bool("login_throttle_enabled", deps.Limiter != nil))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.AuthEvents = repos.AuthEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initCache connects the principal cache when one is configured.
func (d *Dependencies) initCache(ctx context.Context) error {
	if !d.Config.Redis.Enabled() {
		d.Logger.Info("principal cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     d.Config.Redis.Addr,
		Password: d.Config.Redis.Password,
		DB:       d.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Logger.Info("principal cache connected",
		zap.String("addr", d.Config.Redis.Addr),
		zap.Duration("ttl", d.Config.Redis.TTL))
	return nil
}

// initAuth builds the token codec, the audit pool and the services that
// use them.
func (d *Dependencies) initAuth() error {
	codec, err := token.NewCodec(d.Keys,
		token.WithTTL(d.Config.JWT.TTL),
		token.WithIssuer(d.Config.JWT.Issuer),
	)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	d.Codec = codec

	if d.Config.Observability.MetricsEnabled {
		d.Metrics = observability.NewAuthMetrics()
	}

	d.Audit = audit.NewAuditService(d.AuthEvents, d.Users, d.TxManager, d.Metrics, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.WorkerCount,
	})
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	var cache redis.Cmdable
	if d.Redis != nil {
		cache = d.Redis
	}
	d.Principals = services.NewPrincipalService(d.Users, cache, d.Config.Redis.TTL, d.Logger)

	d.AuthService = services.NewAuthService(d.Users, d.Codec, d.Audit, d.Principals, d.Metrics, d.Logger).
		WithLockout(d.Config.RateLimit.LockoutThreshold)
	if d.Redis != nil {
		d.Limiter = ratelimit.NewRateLimitService(d.Redis, ratelimit.Config{
			PerMinute: d.Config.RateLimit.LoginPerMinute,
			PerHour:   d.Config.RateLimit.LoginPerHour,
		}, d.Logger)
		d.AuthService.WithLimiter(d.Limiter)
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Codec, d.Principals, d.Metrics, d.Logger)

	d.Logger.Info("auth initialized",
		zap.Duration("token_ttl", codec.TTL()),
		zap.String("issuer", d.Config.JWT.Issuer))
	return nil
}

func (d *Dependencies) closeCache() error {
	if d.Redis == nil {
		return nil
	}
	err := d.Redis.Close()
	d.Redis = nil
	return err
}

// Close drains the audit queue and releases connections. The audit drain
// is bounded by ctx's deadline when it has one.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := defaultAuditTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if err := d.closeCache(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		d.RepoFactory = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
