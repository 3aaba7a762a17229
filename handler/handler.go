// Package handler exposes the record store over HTTP, both as a plain
// net/http handler and as an API Gateway proxy Lambda handler.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"unison-context/internal/domain"
	"unison-context/internal/policy"
)

const (
	serviceName         = "unison-context"
	defaultMaxBodyBytes = 1 << 20

	headerCorrelationID = "X-Correlation-Id"
	headerPersonID      = "X-Person-Id"
	headerRoles         = "X-Roles"
	headerConsentScopes = "X-Consent-Scopes"
)

// Store is the record store surface the routes call.
type Store interface {
	ReadProfile(ctx context.Context, caller policy.Caller, personID string) (domain.Profile, error)
	WriteProfile(ctx context.Context, caller policy.Caller, personID string, p domain.Profile) (time.Time, error)
	ReadDashboard(ctx context.Context, caller policy.Caller, personID string) (domain.Dashboard, error)
	WriteDashboard(ctx context.Context, caller policy.Caller, personID string, d domain.Dashboard) (time.Time, error)
	ReadSession(ctx context.Context, caller policy.Caller, personID, sessionID string) (domain.Session, error)
	WriteSession(ctx context.Context, caller policy.Caller, personID, sessionID string, s domain.Session) (time.Time, error)
	DeleteSession(ctx context.Context, caller policy.Caller, personID, sessionID string) error
	GetKV(ctx context.Context, caller policy.Caller, namespace, key string) (domain.KVEntry, error)
	PutKV(ctx context.Context, caller policy.Caller, namespace, key string, value json.RawMessage) (time.Time, error)
	DeleteKV(ctx context.Context, caller policy.Caller, namespace, key string) error
	Ready(ctx context.Context) error
}

type Handler struct {
	store   Store
	logger  *slog.Logger
	maxBody int64
	http    http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMaxBodyBytes caps request bodies. Larger bodies are rejected with 413.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBody = n }
}

func NewHandler(store Store, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("handler: store must not be nil")
	}
	h := &Handler{store: store, maxBody: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxBody <= 0 {
		return nil, errors.New("handler: max body bytes must be positive")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.ready)

	mux.HandleFunc("GET /profile/{person_id}", h.getProfile)
	mux.HandleFunc("POST /profile/{person_id}", h.postProfile)

	mux.HandleFunc("GET /dashboard/{person_id}", h.getDashboard)
	mux.HandleFunc("POST /dashboard/{person_id}", h.postDashboard)

	mux.HandleFunc("GET /conversation/{person_id}/{session_id}", h.getSession)
	mux.HandleFunc("POST /conversation/{person_id}/{session_id}", h.postSession)
	mux.HandleFunc("DELETE /conversation/{person_id}/{session_id}", h.deleteSession)
	mux.HandleFunc("DELETE /context/{person_id}/session/{session_id}", h.deleteSession)

	mux.HandleFunc("POST /kv/put", h.kvPut)
	mux.HandleFunc("POST /kv/get", h.kvGet)
	mux.HandleFunc("POST /kv/delete", h.kvDelete)

	mux.HandleFunc("/", h.notFound)

	h.http = chainMiddlewares(mux, h.withRecover, h.withLogging, h.withCorrelation)
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: serviceName})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ready(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Service: serviceName})
}

func (h *Handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, unavailableBody)
}
