package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore persists run records to a single JSON file with atomic writes.
// It is the always-on history backend for CLI runs.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	runs   map[string]*Record
	events map[string][]Event
	logs   map[string][]string
}

type fileContainer struct {
	Runs   []*Record           `json:"runs"`
	Events map[string][]Event  `json:"events,omitempty"`
	Logs   map[string][]string `json:"logs,omitempty"`
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		runs:   make(map[string]*Record),
		events: make(map[string][]Event),
		logs:   make(map[string][]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var container fileContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return fmt.Errorf("parse history file: %w", err)
	}
	for _, rec := range container.Runs {
		if rec == nil {
			continue
		}
		r := *rec
		s.runs[r.ID] = &r
	}
	if container.Events != nil {
		s.events = container.Events
	}
	if container.Logs != nil {
		s.logs = container.Logs
	}
	return nil
}

// save writes the whole store to a temp file and renames it into place, so a
// crash mid-write never leaves a corrupt history file. Callers hold the lock.
func (s *FileStore) save() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	container := fileContainer{Events: s.events, Logs: s.logs}
	for _, rec := range s.runs {
		r := *rec
		container.Runs = append(container.Runs, &r)
	}
	sort.Slice(container.Runs, func(i, j int) bool {
		return container.Runs[i].CreatedAt.Before(container.Runs[j].CreatedAt)
	})
	payload, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	r := rec
	s.runs[r.ID] = &r
	return s.save()
}

func (s *FileStore) update(id string, fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return s.save()
}

func (s *FileStore) SetState(id string, state State, errMsg string) error {
	return s.update(id, func(r *Record) {
		r.State = state
		r.Error = errMsg
		if state.Terminal() {
			r.FinishedAt = time.Now().UTC()
		}
	})
}

func (s *FileStore) SetArtifactVersion(id, version string) error {
	return s.update(id, func(r *Record) {
		r.ArtifactVersion = version
	})
}

func (s *FileStore) AddWarning(id string, w Warning) error {
	return s.update(id, func(r *Record) {
		r.Warnings = append(r.Warnings, w)
	})
}

func (s *FileStore) AppendEvent(id string, state State, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}
	s.events[id] = append(s.events[id], Event{
		ID:        uuid.NewString(),
		RunID:     id,
		State:     state,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	return s.save()
}

func (s *FileStore) AppendLog(id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}
	s.logs[id] = append(s.logs[id], line)
	return s.save()
}

func (s *FileStore) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

func (s *FileStore) List(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Record, 0, len(s.runs))
	for _, rec := range s.runs {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *FileStore) Events(id string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]Event(nil), s.events[id]...), nil
}

func (s *FileStore) Logs(id string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, ErrNotFound
	}
	logs := append([]string(nil), s.logs[id]...)
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}
