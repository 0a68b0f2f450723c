package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/iesalixar/ticket-logger-api/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Automatically commits if function succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository reads the accounts that tokens are issued to.
type UserRepository interface {
	// FindBySubject retrieves the user whose token subject (email) equals
	// subject, with its role names. Returns ErrNotFound when none matches.
	FindBySubject(ctx context.Context, subject string) (*models.User, error)

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// RecordLoginFailure increments the failed login counter.
	RecordLoginFailure(ctx context.Context, id uuid.UUID) error

	// RecordLoginSuccess resets the failed login counter.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID) error
}

// AuthEventRepository persists the authentication audit trail.
type AuthEventRepository interface {
	// Insert inserts a new auth event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// GetBySubject retrieves the newest events for a subject with pagination
	GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuthEvent, error)

	// GetByRequestID retrieves events recorded for a request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users      UserRepository
	AuthEvents AuthEventRepository
}
