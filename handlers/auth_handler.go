package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/iesalixar/ticket-logger-api/auth"
	"github.com/iesalixar/ticket-logger-api/middleware"
	"github.com/iesalixar/ticket-logger-api/services"
	"github.com/iesalixar/ticket-logger-api/utils"
	"go.uber.org/zap"
)

const (
	maxLoginBodyBytes = 1 << 16
	jwksMaxAge        = "300"
)

// Authenticator checks credentials and issues tokens.
type Authenticator interface {
	Login(ctx context.Context, req services.LoginRequest, meta services.RequestMeta) (*services.LoginResult, error)
}

// KeySetProvider publishes the token verification keys.
type KeySetProvider interface {
	JWKS() jose.JSONWebKeySet
}

// LoginResponse is the body of a successful authenticate call.
type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	Subject     string   `json:"subject"`
	Authorities []string `json:"authorities"`
	RequestID   string   `json:"request_id,omitempty"`
}

// AuthHandler serves the token endpoints.
type AuthHandler struct {
	auth   Authenticator
	keys   KeySetProvider
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authenticator Authenticator, keys KeySetProvider, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   authenticator,
		keys:   keys,
		logger: logger,
	}
}

// HandleAuthenticate handles POST /api/auth/authenticate
func (h *AuthHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return
		}
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	meta := services.RequestMeta{
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	res, err := h.auth.Login(r.Context(), req, meta)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := utils.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:   res.Token,
		Message: "Authentication successful",
	}); err != nil {
		h.logger.Error("failed to write login response", zap.Error(err))
	}
}

// HandleMe handles GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	authorities := p.Authorities
	if authorities == nil {
		authorities = []string{}
	}
	_ = utils.WriteOK(w, MeResponse{
		Subject:     p.Identifier,
		Authorities: authorities,
		RequestID:   p.RequestID,
	})
}

// HandleJWKS handles GET /api/auth/jwks and /.well-known/jwks.json
func (h *AuthHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age="+jwksMaxAge)
	if err := utils.WriteJSON(w, http.StatusOK, h.keys.JWKS()); err != nil {
		h.logger.Error("failed to write jwks response", zap.Error(err))
	}
}
