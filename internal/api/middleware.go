// Package api - Middleware for authentication and request processing
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/domain"
)

// zapLogger backs the package-level middleware functions, which run before
// any Handler method is reachable. SetLogger installs the real logger at
// startup; until then requests log to a no-op sink.
var zapLogger = zap.NewNop().Sugar()

// SetLogger installs the structured logger used by LoggingMiddleware and
// RecoveryMiddleware.
func SetLogger(log *zap.SugaredLogger) {
	zapLogger = log
}

// AuthMiddleware validates the bearer access token and attaches the
// resolved user to the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondErrorCode(w, http.StatusUnauthorized, "NO_TOKEN", "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			respondErrorCode(w, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "invalid authorization header format")
			return
		}

		u, err := h.auth.ValidateAccessToken(r.Context(), parts[1])
		if err != nil {
			respondErrorCode(w, http.StatusUnauthorized, apperr.CodeSessionExpired, "token invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnlyMiddleware rejects any caller whose account is not admin or
// moderator. Must run after AuthMiddleware.
func (h *Handler) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFromContext(r.Context())
		if u == nil || (u.UserType != domain.UserTypeAdmin && u.UserType != domain.UserTypeModerator) {
			respondErrorCode(w, http.StatusForbidden, "FORBIDDEN", "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs every request's method, path, status, and
// duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zapLogger.Infow("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// CORSMiddleware adds permissive CORS headers suitable for a public API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware recovers from panics in downstream handlers.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				zapLogger.Errorw("panic recovered", "err", err, "path", r.URL.Path)
				respondErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
