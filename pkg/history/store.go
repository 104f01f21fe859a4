package history

import "errors"

// ErrNotFound is returned when a run ID does not exist in a store.
var ErrNotFound = errors.New("run not found")

// Store persists deployment records, their events, and their logs. Create is
// an upsert: deployd registers a pending record at submission time and the
// pipeline re-creates it when the run starts.
type Store interface {
	Create(rec Record) error
	SetState(id string, state State, errMsg string) error
	SetArtifactVersion(id, version string) error
	AddWarning(id string, w Warning) error
	AppendEvent(id string, state State, message string) error
	AppendLog(id, line string) error
	Get(id string) (Record, error)
	List(limit int) ([]Record, error)
	Events(id string) ([]Event, error)
	Logs(id string, limit int) ([]string, error)
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
