package cohort

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testServer(t *testing.T, body string, hits *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
}

func TestLoaderLoadStoresCohort(t *testing.T) {
	var hits int64
	srv := testServer(t, `{"cohort_id":"c1","last_computed":100,"size":2,"group_type":"User","member_ids":["u1","u2"]}`, &hits)
	defer srv.Close()

	storage := NewStorage()
	downloader := NewDownloader(srv.URL, "key", "secret", 15000)
	loader := NewLoader(downloader, storage)

	if err := loader.Load(context.Background(), "c1"); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	desc, ok := storage.GetDescription("c1")
	if !ok {
		t.Fatalf("expected c1 to be stored")
	}
	if desc.Size != 2 {
		t.Errorf("expected size 2, got %d", desc.Size)
	}
	members := storage.CohortsForUser("u1", map[string]struct{}{"c1": {}})
	if _, in := members["c1"]; !in {
		t.Errorf("expected u1 to be a member of c1")
	}
}

func TestLoaderDedupsConcurrentLoads(t *testing.T) {
	var hits int64
	srv := testServer(t, `{"cohort_id":"c1","last_computed":100,"size":1,"group_type":"User","member_ids":["u1"]}`, &hits)
	defer srv.Close()

	storage := NewStorage()
	downloader := NewDownloader(srv.URL, "key", "secret", 15000)
	loader := NewLoader(downloader, storage)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() { done <- loader.Load(context.Background(), "c1") }()
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
	}

	if got := atomic.LoadInt64(&hits); got > 10 {
		t.Errorf("expected dedup to reduce HTTP calls, got %d hits for 10 loads", got)
	}
}

func TestLoaderAllAggregatesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	storage := NewStorage()
	downloader := NewDownloader(srv.URL, "key", "secret", 15000)
	downloader.PollInterval = 0
	loader := NewLoader(downloader, storage)

	err := loader.LoadAll(context.Background(), map[string]struct{}{"c1": {}, "c2": {}})
	if err == nil {
		t.Fatalf("expected an aggregate error for two failing downloads")
	}
}
