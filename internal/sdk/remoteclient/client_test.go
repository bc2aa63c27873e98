package remoteclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientEvaluateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"my-flag": {"key": "on"}}`))
	}))
	defer srv.Close()

	client := New(Config{ServerURL: srv.URL, APIKey: "key"})
	results, err := client.Evaluate(context.Background(), map[string]any{"user_id": "u1"}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if results["my-flag"].Key != "on" {
		t.Errorf("expected my-flag=on, got %+v", results["my-flag"])
	}
}

func TestClientEvaluateRetriesTransientFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(Config{ServerURL: srv.URL, APIKey: "key"})
	if _, err := client.Evaluate(context.Background(), map[string]any{}, nil); err != nil {
		t.Fatalf("expected eventual success after retry, got %v", err)
	}
	if atomic.LoadInt64(&hits) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", hits)
	}
}

func TestClientEvaluateDoesNotRetryClientErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(Config{ServerURL: srv.URL, APIKey: "bad-key"})
	if _, err := client.Evaluate(context.Background(), map[string]any{}, nil); err == nil {
		t.Fatalf("expected an error for a 401 response")
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent client error, got %d", hits)
	}
}
