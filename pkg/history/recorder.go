package history

import "log/slog"

// Recorder fans every record mutation out to all configured stores. Store
// failures are logged and swallowed: losing a history write must never fail
// a deployment.
type Recorder struct {
	stores []Store
	log    *slog.Logger
}

func NewRecorder(log *slog.Logger, stores ...Store) *Recorder {
	return &Recorder{stores: stores, log: log}
}

func (r *Recorder) each(op string, fn func(Store) error) {
	for _, s := range r.stores {
		if err := fn(s); err != nil {
			r.log.Error("history write failed", "op", op, "error", err)
		}
	}
}

func (r *Recorder) Create(rec Record) {
	r.each("create", func(s Store) error { return s.Create(rec) })
}

func (r *Recorder) SetState(id string, state State, errMsg string) {
	r.each("set_state", func(s Store) error { return s.SetState(id, state, errMsg) })
}

func (r *Recorder) SetArtifactVersion(id, version string) {
	r.each("set_artifact_version", func(s Store) error { return s.SetArtifactVersion(id, version) })
}

func (r *Recorder) AddWarning(id string, w Warning) {
	r.each("add_warning", func(s Store) error { return s.AddWarning(id, w) })
}

func (r *Recorder) AppendEvent(id string, state State, message string) {
	r.each("append_event", func(s Store) error { return s.AppendEvent(id, state, message) })
}

func (r *Recorder) AppendLog(id, line string) {
	r.each("append_log", func(s Store) error { return s.AppendLog(id, line) })
}

// Get reads from the first store that answers, so callers see the freshest
// in-memory copy when one is configured.
func (r *Recorder) Get(id string) (Record, error) {
	var lastErr error
	for _, s := range r.stores {
		rec, err := s.Get(id)
		if err == nil {
			return rec, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return Record{}, lastErr
}
