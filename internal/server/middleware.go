package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/internal/common"
)

const (
	headerUserID     = "X-User-ID"
	headerAdminToken = "X-Admin-Token"
)

// requestContext copies chi's request id into the application context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"request_id", common.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"remote", r.RemoteAddr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// identity reads the caller from X-User-ID. Requests without the header are
// anonymous; a malformed value is rejected.
func identity(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(headerUserID))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if common.UUID(headerUserID, raw) != nil || uuid.MustParse(raw) == uuid.Nil {
				writeError(w, r, logger, common.NewAppError("UNAUTHENTICATED", "X-User-ID must be a UUID", common.ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), uuid.MustParse(raw))))
		})
	}
}

// requireAdmin guards operator routes. An empty token disables them.
func requireAdmin(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(headerAdminToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, r, logger, common.NewAppError("UNAUTHENTICATED", "admin token required", common.ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(common.WithAdmin(r.Context())))
		})
	}
}
