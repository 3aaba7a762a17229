package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"unison-context/internal/observability"
	"unison-context/internal/usecase"
)

// withCorrelation echoes or mints the correlation id and puts it, with the
// base logger, into the request context.
func (h *Handler) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerCorrelationID, id)

		ctx := observability.WithCorrelationID(r.Context(), id)
		ctx = observability.WithLogger(ctx, h.logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		observability.LoggerFromContext(r.Context(), h.logger).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				observability.LoggerFromContext(r.Context(), h.logger).Error("panic serving request",
					"path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// chainMiddlewares applies middlewares so the first one listed runs
// innermost.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}
