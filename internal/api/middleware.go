package api

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	userIDKey     contextKey = "user_id"
	automationKey contextKey = "automation"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		requestID := GetRequestID(r.Context())

		log.Printf(
			"method=%s path=%s status=%d duration=%s request_id=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			duration,
			requestID,
		)
	})
}

// Auth guards the trigger endpoints. Calls either carry the identity the
// surrounding application established (X-User-ID) or the shared automation
// secret (X-Automation-Key) presented by cron-style jobs. Batch operations
// accept only the secret; nothing touches the ledger before this check.
type Auth struct {
	AutomationSecret string
}

func (a Auth) isAutomation(r *http.Request) bool {
	key := r.Header.Get("X-Automation-Key")
	if key == "" || a.AutomationSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.AutomationSecret)) == 1
}

// RequireUser admits an authenticated end user or an automation caller.
func (a Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isAutomation(r) {
			ctx := context.WithValue(r.Context(), automationKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid user identity")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAutomation admits only callers presenting the automation secret.
func (a Auth) RequireAutomation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.isAutomation(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "automation secret required")
			return
		}

		ctx := context.WithValue(r.Context(), automationKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserID retrieves the authenticated user from context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// IsAutomation reports whether the caller presented the automation secret.
func IsAutomation(ctx context.Context) bool {
	ok, _ := ctx.Value(automationKey).(bool)
	return ok
}

// canAccessUser allows a caller to touch a user's data if it is that user or
// an automation job.
func canAccessUser(ctx context.Context, userID uuid.UUID) bool {
	if IsAutomation(ctx) {
		return true
	}
	id, ok := GetUserID(ctx)
	return ok && id == userID
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
