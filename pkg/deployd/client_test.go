package deployd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/estore/pkg/history"
)

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/runs" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Key secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageTag != "1.1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(SubmissionEnvelope{
			RunID:     "run-1",
			StatusURL: "/api/runs/run-1",
			LogsURL:   "/api/runs/run-1/logs",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	env, err := c.Submit(context.Background(), RunRequest{ImageTag: "1.1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if env.RunID != "run-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ListResponse{Runs: []history.Record{
			{ID: "run-1", State: history.StateSucceeded},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	runs, err := c.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestFollowLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: stage building: compiling artifact\n\n")
		fmt.Fprint(w, ": heartbeat comment\n")
		fmt.Fprint(w, "data: run succeeded\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var lines []string
	err := c.FollowLogs(context.Background(), "run-1", func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if len(lines) != 2 || !strings.Contains(lines[0], "compiling artifact") {
		t.Fatalf("unexpected lines: %v", lines)
	}
}
