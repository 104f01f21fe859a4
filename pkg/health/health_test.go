package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newVerifier() *Verifier {
	return &Verifier{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Grace:    10 * time.Millisecond,
		Window:   200 * time.Millisecond,
		Interval: 20 * time.Millisecond,
	}
}

func TestVerifySucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := newVerifier()
	if err := v.Verify(context.Background(), srv.URL+"/app/"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRetriesUntilReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := newVerifier()
	if err := v.Verify(context.Background(), srv.URL+"/app/"); err != nil {
		t.Fatalf("verify after warmup: %v", err)
	}
	if hits.Load() < 3 {
		t.Fatalf("expected at least 3 probes, got %d", hits.Load())
	}
}

func TestVerifyFailsAfterWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := newVerifier()
	err := v.Verify(context.Background(), srv.URL+"/app/")
	if err == nil {
		t.Fatalf("expected verification failure")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("last probe result not surfaced: %v", err)
	}
}

func TestVerifyUnreachableTarget(t *testing.T) {
	v := newVerifier()
	v.Client = &http.Client{Timeout: 50 * time.Millisecond}
	if err := v.Verify(context.Background(), "http://127.0.0.1:1/app/"); err == nil {
		t.Fatalf("expected failure for unreachable target")
	}
}

func TestURL(t *testing.T) {
	if got := URL("localhost", 9090, "/app/"); got != "http://localhost:9090/app/" {
		t.Fatalf("unexpected url: %s", got)
	}
	if got := URL("localhost", 9090, "app/"); got != "http://localhost:9090/app/" {
		t.Fatalf("missing slash not normalized: %s", got)
	}
}
