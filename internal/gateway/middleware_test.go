package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("test response"))
	})

	wrapped := RequestID()(Logging(zap.New(core), "/healthz")(handler))

	req := httptest.NewRequest(http.MethodPost, "/queries/User/get", nil)
	req.Header.Set(RequestIDHeader, "test-request-id")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "test-request-id" {
		t.Errorf("Expected request ID 'test-request-id', got %v", fields["request_id"])
	}
	if fields["status"] != int64(http.StatusCreated) {
		t.Errorf("Expected status %d, got %v", http.StatusCreated, fields["status"])
	}
	if fields["bytes"] != int64(13) {
		t.Errorf("Expected 13 bytes written, got %v", fields["bytes"])
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	wrapped.ServeHTTP(httptest.NewRecorder(), req)
	if logs.Len() != 1 {
		t.Error("Logger should not be called for skipped path")
	}
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("Expected generated request ID in context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("Expected response header %s, got %s", seen, rec.Header().Get(RequestIDHeader))
	}
	if len(seen) != 36 {
		t.Errorf("Expected UUID request ID, got %s", seen)
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if logs.Len() != 1 {
		t.Errorf("Expected panic to be logged, got %d entries", logs.Len())
	}
}

func TestTokenService(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)

	token, err := svc.GenerateToken("ci", []string{"Order", "Product"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	principal, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if principal.Subject != "ci" {
		t.Errorf("Expected subject ci, got %s", principal.Subject)
	}
	if !principal.Allows("OrderLines") || !principal.Allows("Product_v2") {
		t.Error("Expected prefixes to allow matching queries")
	}
	if principal.Allows("User") {
		t.Error("Expected User to be denied")
	}

	if _, err := NewTokenService("other", time.Minute).ValidateToken(token); err == nil {
		t.Error("Expected error for token signed with another secret")
	}
	if _, err := svc.GenerateToken("", nil); err == nil {
		t.Error("Expected error for empty subject")
	}

	expired := NewTokenService("secret", -time.Minute)
	if expired.TTL() != time.Hour {
		t.Errorf("Expected non-positive TTL to default to 1h, got %s", expired.TTL())
	}
}

func TestSecrets(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}
	if !CheckSecret("s3cret", hash) {
		t.Error("Expected secret to match its hash")
	}
	if CheckSecret("wrong", hash) {
		t.Error("Expected wrong secret to be rejected")
	}

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := HashSecret(string(long)); err == nil {
		t.Error("Expected error for secret longer than 72 bytes")
	}
}
