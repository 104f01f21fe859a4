package history

import (
	"path/filepath"
	"testing"
)

func TestMemStoreLifecycle(t *testing.T) {
	s := NewMemStore()
	rec := NewRecord("estore", "estore:1.0", 9090, 9090)
	if err := s.Create(rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetState(rec.ID, StateBuilding, ""); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := s.AddWarning(rec.ID, Warning{Class: "VerifyWarning", Stage: "verify", Message: "probe timed out"}); err != nil {
		t.Fatalf("add warning: %v", err)
	}
	if err := s.SetState(rec.ID, StateSucceeded, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateSucceeded || got.FinishedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Degraded() {
		t.Fatalf("verify warning should mark the run degraded: %+v", got)
	}
}

func TestMemStoreSubscribeReplaysLogs(t *testing.T) {
	s := NewMemStore()
	rec := NewRecord("estore", "estore:1.0", 9090, 9090)
	if err := s.Create(rec); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendLog(rec.ID, "building"); err != nil {
		t.Fatal(err)
	}

	ch, err := s.Subscribe(rec.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if line := <-ch; line != "building" {
		t.Fatalf("expected replayed line, got %q", line)
	}

	if err := s.AppendLog(rec.ID, "imaging"); err != nil {
		t.Fatal(err)
	}
	if line := <-ch; line != "imaging" {
		t.Fatalf("expected live line, got %q", line)
	}

	s.CloseSubscribers(rec.ID)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestMemStoreUnknownRun(t *testing.T) {
	s := NewMemStore()
	if err := s.SetState("nope", StateFailed, ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	rec := NewRecord("estore", "estore:1.0", 9090, 9090)
	if err := s.Create(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AppendEvent(rec.ID, StateBuilding, "compiling service"); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.AppendLog(rec.ID, "go build ok"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	if err := s.SetState(rec.ID, StateFailed, "port in use"); err != nil {
		t.Fatalf("set state: %v", err)
	}

	// A fresh store reading the same file sees everything.
	reloaded, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.Get(rec.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.State != StateFailed || got.Error != "port in use" {
		t.Fatalf("unexpected reloaded record: %+v", got)
	}
	events, err := reloaded.Events(rec.ID)
	if err != nil || len(events) != 1 || events[0].Message != "compiling service" {
		t.Fatalf("unexpected events: %v %v", events, err)
	}
	logs, err := reloaded.Logs(rec.ID, 0)
	if err != nil || len(logs) != 1 {
		t.Fatalf("unexpected logs: %v %v", logs, err)
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	first := NewRecord("estore", "estore:1.0", 9090, 9090)
	if err := s.Create(first); err != nil {
		t.Fatal(err)
	}
	second := NewRecord("estore", "estore:1.1", 9090, 9090)
	second.CreatedAt = second.CreatedAt.Add(1)
	if err := s.Create(second); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("expected newest record only, got %+v", list)
	}
}

func TestCreateIsUpsert(t *testing.T) {
	s := NewMemStore()
	rec := NewRecord("estore", "estore:1.0", 9090, 9090)
	if err := s.Create(rec); err != nil {
		t.Fatal(err)
	}
	submitted, _ := s.Get(rec.ID)

	// The pipeline re-creates the record when the run starts; the original
	// submission time survives.
	rec.ImageRef = "estore:1.1"
	if err := s.Create(rec); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(rec.ID)
	if got.ImageRef != "estore:1.1" {
		t.Fatalf("upsert did not replace record: %+v", got)
	}
	if !got.CreatedAt.Equal(submitted.CreatedAt) {
		t.Fatalf("upsert reset CreatedAt")
	}
}
