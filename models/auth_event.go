package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuthEventType is the kind of authentication event recorded.
type AuthEventType string

const (
	AuthEventLoginSucceeded AuthEventType = "login_succeeded"
	AuthEventLoginFailed    AuthEventType = "login_failed"
	AuthEventTokenRejected  AuthEventType = "token_rejected"
)

// AuthEvent is an entry of the authentication audit trail. It never holds
// tokens or credentials.
type AuthEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Type      AuthEventType   `json:"type" db:"event_type"`
	Subject   string          `json:"subject" db:"subject"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Reason    string          `json:"reason,omitempty" db:"reason"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(eventType AuthEventType, subject string) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now(),
	}
}

// WithUser sets the user ID
func (e *AuthEvent) WithUser(userID uuid.UUID) *AuthEvent {
	e.UserID = &userID
	return e
}

// WithReason sets the failure category, e.g. "bad_credentials".
func (e *AuthEvent) WithReason(reason string) *AuthEvent {
	e.Reason = reason
	return e
}

// WithDetails sets the details
func (e *AuthEvent) WithDetails(details interface{}) *AuthEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, ipAddress, userAgent string) *AuthEvent {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
