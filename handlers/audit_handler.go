package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/iesalixar/ticket-logger-api/middleware"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/services/ratelimit"
	"github.com/iesalixar/ticket-logger-api/utils"
	"go.uber.org/zap"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 200
)

// AuthEventReader reads the authentication audit trail.
type AuthEventReader interface {
	GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuthEvent, error)
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthEvent, error)
}

// ThrottleInspector reports the login attempts counted for a username.
type ThrottleInspector interface {
	GetCurrentUsage(ctx context.Context, username string) (*ratelimit.UsageStats, error)
}

// ThrottleUsageResponse is the body of a login throttle lookup.
type ThrottleUsageResponse struct {
	Username           string `json:"username"`
	AttemptsThisMinute int    `json:"attempts_this_minute"`
	AttemptsThisHour   int    `json:"attempts_this_hour"`
}

// AuditHandler serves the administrative views of the audit trail and the
// login throttle.
type AuditHandler struct {
	events   AuthEventReader
	throttle ThrottleInspector
	logger   *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. throttle may be nil when
// login throttling is disabled.
func NewAuditHandler(events AuthEventReader, throttle ThrottleInspector, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		events:   events,
		throttle: throttle,
		logger:   logger,
	}
}

// HandleListAuthEvents handles GET /api/admin/auth-events
func (h *AuditHandler) HandleListAuthEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	query := r.URL.Query()

	subject := query.Get("subject")
	byRequest := query.Get("request_id")
	if (subject == "") == (byRequest == "") {
		_ = utils.WriteBadRequest(w, "Exactly one of subject or request_id is required", nil)
		return
	}

	var (
		events []*models.AuthEvent
		err    error
	)
	if byRequest != "" {
		events, err = h.events.GetByRequestID(ctx, byRequest)
	} else {
		limit, offset, ok := pagination(query.Get("limit"), query.Get("offset"))
		if !ok {
			_ = utils.WriteBadRequest(w, "Invalid pagination parameters", map[string]interface{}{
				"limit":  "integer between 1 and " + strconv.Itoa(maxEventPageSize),
				"offset": "non-negative integer",
			})
			return
		}
		events, err = h.events.GetBySubject(ctx, subject, limit, offset)
	}
	if err != nil {
		h.logger.Error("failed to list auth events",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve auth events")
		return
	}

	if events == nil {
		events = []*models.AuthEvent{}
	}
	h.logger.Debug("listed auth events",
		zap.String("request_id", requestID),
		zap.Int("count", len(events)))

	_ = utils.WriteOK(w, events)
}

// HandleLoginThrottle handles GET /api/admin/login-throttle/{username}
func (h *AuditHandler) HandleLoginThrottle(w http.ResponseWriter, r *http.Request) {
	if h.throttle == nil {
		_ = utils.WriteNotFound(w, "login throttling is disabled")
		return
	}

	username := chi.URLParam(r, "username")
	usage, err := h.throttle.GetCurrentUsage(r.Context(), username)
	if err != nil {
		h.logger.Warn("failed to read login throttle",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteServiceUnavailable(w, "Login throttle unavailable")
		return
	}

	_ = utils.WriteOK(w, ThrottleUsageResponse{
		Username:           username,
		AttemptsThisMinute: usage.AttemptsThisMinute,
		AttemptsThisHour:   usage.AttemptsThisHour,
	})
}

func pagination(rawLimit, rawOffset string) (limit, offset int, ok bool) {
	limit = defaultEventPageSize
	if rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > maxEventPageSize {
			return 0, 0, false
		}
		limit = n
	}
	if rawOffset != "" {
		n, err := strconv.Atoi(rawOffset)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
