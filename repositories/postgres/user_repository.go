package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const selectUserWithRoles = `
	SELECT u.id, u.email, u.password_hash, u.active, u.account_non_locked,
		u.email_verified, u.must_change_password, u.failed_login_attempts,
		u.last_password_change, u.password_expires_at, u.created_at, u.updated_at,
		COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}') AS roles
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id
`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// FindBySubject retrieves a user by email together with its role names
// sorted by name.
func (r *UserRepository) FindBySubject(ctx context.Context, subject string) (*models.User, error) {
	query := selectUserWithRoles + `
		WHERE u.email = $1
		GROUP BY u.id
	`

	user, err := scanUser(executor(ctx, r.db).QueryRowContext(ctx, query, subject))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := selectUserWithRoles + `
		WHERE u.id = $1
		GROUP BY u.id
	`

	user, err := scanUser(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// RecordLoginFailure increments failed_login_attempts.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

// RecordLoginSuccess resets failed_login_attempts.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

func (r *UserRepository) execOne(ctx context.Context, query string, id uuid.UUID) error {
	result, err := executor(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}

	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user               models.User
		lastPasswordChange sql.NullTime
		passwordExpiresAt  sql.NullTime
		roles              pq.StringArray
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Active,
		&user.AccountNonLocked,
		&user.EmailVerified,
		&user.MustChangePassword,
		&user.FailedLoginAttempts,
		&lastPasswordChange,
		&passwordExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&roles,
	)
	if err != nil {
		return nil, err
	}

	if lastPasswordChange.Valid {
		user.LastPasswordChange = &lastPasswordChange.Time
	}
	if passwordExpiresAt.Valid {
		user.PasswordExpiresAt = &passwordExpiresAt.Time
	}
	user.Roles = append([]string{}, roles...)

	return &user, nil
}
