// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	"meshplane/internal/logger"
)

// UserIDHeader identifies the caller of the public API.
const UserIDHeader = "X-User-ID"

// RequestIDHeader carries the correlation ID of a request.
const RequestIDHeader = "X-Request-ID"

type userIDKey struct{}

// Identify stores the caller's X-User-ID, if any, in the request context.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			r = r.WithContext(NewContextWithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// NewContextWithUserID returns a context carrying the user ID.
func NewContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the user ID set by Identify.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// RequestID assigns every request a correlation ID, reusing the caller's
// X-Request-ID when present, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), reqID)))
	})
}

// clientKey identifies the caller for rate limiting: the user ID, or the
// remote host for anonymous requests.
func clientKey(r *http.Request) string {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
