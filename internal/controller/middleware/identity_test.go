package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"meshplane/internal/logger"
)

func TestIdentify(t *testing.T) {
	var got string
	var ok bool
	handler := Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = UserIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), request("alice", ""))
	if !ok || got != "alice" {
		t.Errorf("UserIDFromContext = %q, %v; want alice", got, ok)
	}

	handler.ServeHTTP(httptest.NewRecorder(), request("", ""))
	if ok {
		t.Error("expected no user ID for anonymous request")
	}

	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("expected ok to be false for empty context")
	}
}

func TestRequestID_EchoesCallerID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req-123" {
		t.Errorf("context request ID = %q, want req-123", seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("response header = %q, want req-123", got)
	}
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen == "" {
		t.Fatal("expected a generated request ID")
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}
