package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetcher_Fetch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "listing-comb-test", 100, 3)

	data, err := fetcher.Fetch(context.Background(), server.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("Unexpected body %q", data)
	}

	calls.Store(0)
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/missing.jpg"); err == nil {
		t.Fatal("Expected error for missing image")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a 404 not to be retried, got %d calls", calls.Load())
	}
}
