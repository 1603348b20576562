package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/apikey"
	"github.com/kenneth/envvault/internal/metrics"
	"github.com/kenneth/envvault/internal/secrets"
	"github.com/kenneth/envvault/internal/users"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler handles the account, credential and environment endpoints.
type Handler struct {
	users       *users.Service
	secrets     *secrets.Service
	issuer      *apikey.Issuer
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	maxBody     int64
	storeHealth func(ctx context.Context) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes limits JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithStoreHealth sets the readiness probe.
func WithStoreHealth(check func(ctx context.Context) error) Option {
	return func(h *Handler) { h.storeHealth = check }
}

// NewHandler creates a new API handler.
func NewHandler(u *users.Service, s *secrets.Service, issuer *apikey.Issuer, logger *logrus.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Handler{
		users:   u,
		secrets: s,
		issuer:  issuer,
		logger:  logger,
		metrics: m,
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and metrics endpoints
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleReady).Methods("GET")
	r.HandleFunc("/readyz", h.handleReady).Methods("GET")
	r.HandleFunc("/live", h.handleLive).Methods("GET")
	r.HandleFunc("/livez", h.handleLive).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Anonymous account endpoints
	api.HandleFunc("/users/register", h.handleRegister).Methods("POST")
	api.HandleFunc("/users/confirm/{sealed}", h.handleConfirm).Methods("GET")
	api.HandleFunc("/users/login", h.handleLogin).Methods("POST")

	// Machine clients authenticate with an API credential, not a session.
	api.HandleFunc("/env/env", h.handleFetchEnvironment).Methods("POST")

	session := api.NewRoute().Subrouter()
	session.Use(RequireSession(h.users, h.logger))

	session.HandleFunc("/users/me", h.handleGetMe).Methods("GET")
	session.HandleFunc("/users/me", h.handleUpdateMe).Methods("PUT")
	session.HandleFunc("/users/me", h.handleDeleteMe).Methods("DELETE")
	session.HandleFunc("/users/genkey", h.handleGenerateKey).Methods("GET")
	session.HandleFunc("/users/keys", h.handleGenerateKey).Methods("POST")
	session.HandleFunc("/users/delkey", h.handleDeleteKey).Methods("POST")

	// Static env paths must be registered before /env/{id}.
	session.HandleFunc("/env", h.handleCreateEnvironment).Methods("POST")
	session.HandleFunc("/env/updateEnv", h.handleUpdateEnvironment).Methods("PUT")
	session.HandleFunc("/env/userenvs", h.handleListEnvironments).Methods("GET")
	session.HandleFunc("/env/addKey", h.handleAddSecret).Methods("POST")
	session.HandleFunc("/env/updateKey", h.handleUpdateSecret).Methods("PUT")
	session.HandleFunc("/env/deleteKey", h.handleDeleteSecret).Methods("POST")
	session.HandleFunc("/env/{id}", h.handleGetEnvironment).Methods("GET")
	session.HandleFunc("/env/{id}", h.handleDeleteEnvironment).Methods("DELETE")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrNotFoundRoute.WriteJSON(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrMethodNotAllowed.WriteJSON(w)
	})
}

// handleHealth handles health check requests.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.HealthHandler()(w, r)
}

// handleReady handles readiness check requests.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	metrics.ReadinessHandler(h.storeHealth)(w, r)
}

// handleLive handles liveness check requests.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	metrics.LivenessHandler()(w, r)
}

// fail logs err and writes its API form.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, start time.Time, err error) {
	apiErr := TranslateError(err)
	fields := logrus.Fields{
		"operation":  op,
		"status":     apiErr.HTTPStatus,
		"duration":   time.Since(start),
		"client_ip":  getClientIP(r),
		"request_id": getRequestID(r),
	}
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(fields).Error("Request failed")
	} else {
		h.logger.WithError(err).WithFields(fields).Debug("Request rejected")
	}
	out := *apiErr
	out.RequestID = getRequestID(r)
	out.WriteJSON(w)
}

// decode reads the JSON request body into v, writing the error response on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if apiErr := decodeJSON(w, r, h.maxBody, v); apiErr != nil {
		apiErr.WriteJSON(w)
		return false
	}
	return true
}
