package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when events are recorded before Start or after Stop.
	ErrNotStarted = errors.New("audit service not running")

	// ErrBufferFull is returned when an event is dropped by Record.
	ErrBufferFull = errors.New("audit event buffer full")
)

const processTimeout = 5 * time.Second

// AuditService persists auth events asynchronously on a pool of workers.
// Login outcomes update the user's failed login counter in the same
// transaction as the event insert.
type AuditService struct {
	events      repositories.AuthEventRepository
	users       repositories.UserRepository
	txManager   repositories.TransactionManager
	metrics     *observability.AuthMetrics
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance. users and txManager
// may be nil, in which case only the event is written.
func NewAuditService(
	events repositories.AuthEventRepository,
	users repositories.UserRepository,
	txManager repositories.TransactionManager,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	config Config,
) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		events:      events,
		users:       users,
		txManager:   txManager,
		metrics:     metrics,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written.
// Writes still in flight when timeout elapses are cancelled.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. When the buffer is full the
// event is dropped and counted.
func (s *AuditService) Record(event *models.AuthEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.metrics.AuditDropped()
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("request_id", event.RequestID))
		return ErrBufferFull
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
				zap.String("request_id", event.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, processTimeout)
	defer cancel()

	update := s.counterUpdate(event)
	if update == nil || s.txManager == nil {
		if err := s.events.Insert(ctx, event); err != nil {
			return fmt.Errorf("failed to insert auth event: %w", err)
		}
		if update != nil {
			return update(ctx)
		}
		return nil
	}

	return s.txManager.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if err := s.events.Insert(ctx, event); err != nil {
			return fmt.Errorf("failed to insert auth event: %w", err)
		}
		return update(ctx)
	})
}

// counterUpdate returns the user counter change implied by event, or nil.
func (s *AuditService) counterUpdate(event *models.AuthEvent) func(context.Context) error {
	if s.users == nil || event.UserID == nil {
		return nil
	}
	id := *event.UserID

	switch event.Type {
	case models.AuthEventLoginFailed:
		return func(ctx context.Context) error {
			if err := s.users.RecordLoginFailure(ctx, id); err != nil {
				return fmt.Errorf("failed to record login failure: %w", err)
			}
			return nil
		}
	case models.AuthEventLoginSucceeded:
		return func(ctx context.Context) error {
			if err := s.users.RecordLoginSuccess(ctx, id); err != nil {
				return fmt.Errorf("failed to record login success: %w", err)
			}
			return nil
		}
	default:
		return nil
	}
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
