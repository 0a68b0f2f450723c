package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"go.uber.org/zap"
)

// AuthEventRepository implements the repositories.AuthEventRepository interface
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new auth event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, event_type, subject, user_id, reason, details,
			ip_address, user_agent, request_id, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var details interface{}
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Subject,
		event.UserID,
		event.Reason,
		details,
		event.IPAddress,
		event.UserAgent,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("type", string(event.Type)))
	return nil
}

// GetBySubject retrieves the newest events for a subject with pagination
func (r *AuthEventRepository) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuthEvent, error) {
	query := `
		SELECT id, event_type, subject, user_id, reason, details,
			ip_address, user_agent, request_id, timestamp
		FROM auth_events
		WHERE subject = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, subject, limit, offset)
}

// GetByRequestID retrieves events recorded for a request
func (r *AuthEventRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthEvent, error) {
	query := `
		SELECT id, event_type, subject, user_id, reason, details,
			ip_address, user_agent, request_id, timestamp
		FROM auth_events
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`
	return r.query(ctx, query, requestID)
}

func (r *AuthEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuthEvent, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		var (
			event     models.AuthEvent
			reason    sql.NullString
			details   []byte
			ipAddress sql.NullString
			userAgent sql.NullString
			requestID sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Subject,
			&event.UserID,
			&reason,
			&details,
			&ipAddress,
			&userAgent,
			&requestID,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		event.Reason = reason.String
		event.Details = details
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String
		event.RequestID = requestID.String
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth events: %w", err)
	}

	return events, nil
}
