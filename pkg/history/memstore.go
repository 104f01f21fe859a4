package history

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type subscriber chan string

type runRecord struct {
	rec         Record
	events      []Event
	logs        []string
	subscribers []subscriber
}

// MemStore keeps run records in memory and supports live log subscriptions
// for SSE streaming.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*runRecord
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*runRecord)}
}

func (s *MemStore) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[rec.ID]; ok {
		// Keep the submission timestamp when the pipeline re-creates the
		// record at run start.
		rec.CreatedAt = existing.rec.CreatedAt
		existing.rec = rec
		return nil
	}
	s.items[rec.ID] = &runRecord{rec: rec}
	return nil
}

func (s *MemStore) SetState(id string, state State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rr.rec.State = state
	rr.rec.UpdatedAt = time.Now().UTC()
	rr.rec.Error = errMsg
	if state.Terminal() {
		rr.rec.FinishedAt = rr.rec.UpdatedAt
	}
	return nil
}

func (s *MemStore) SetArtifactVersion(id, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rr.rec.ArtifactVersion = version
	rr.rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AddWarning(id string, w Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rr.rec.Warnings = append(rr.rec.Warnings, w)
	rr.rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AppendEvent(id string, state State, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rr.events = append(rr.events, Event{
		ID:        uuid.NewString(),
		RunID:     id,
		State:     state,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *MemStore) AppendLog(id, line string) error {
	s.mu.Lock()
	rr, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	rr.logs = append(rr.logs, line)
	subs := append([]subscriber(nil), rr.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- line:
		default:
		}
	}
	return nil
}

func (s *MemStore) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rr, ok := s.items[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rr.rec, nil
}

func (s *MemStore) List(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Record, 0, len(s.items))
	for _, rr := range s.items {
		result = append(result, rr.rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemStore) Events(id string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rr, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Event(nil), rr.events...), nil
}

func (s *MemStore) Logs(id string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rr, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	logs := append([]string(nil), rr.logs...)
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// Subscribe returns a channel receiving log lines for the run, starting with
// a replay of everything captured so far.
func (s *MemStore) Subscribe(id string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	ch := make(subscriber, 256)
	for _, line := range rr.logs {
		select {
		case ch <- line:
		default:
		}
	}
	rr.subscribers = append(rr.subscribers, ch)
	return ch, nil
}

// CloseSubscribers ends every live log stream for the run.
func (s *MemStore) CloseSubscribers(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.items[id]
	if !ok {
		return
	}
	for _, sub := range rr.subscribers {
		close(sub)
	}
	rr.subscribers = nil
}
