package runner

import (
	"context"
	"os"
	"sync"
)

// Fake is a Runner for tests. Commands are recorded and answered by Handler;
// a nil Handler answers every command with empty output and no error.
type Fake struct {
	mu      sync.Mutex
	Calls   [][]string
	Uploads map[string][]byte
	Handler func(args []string) (string, error)
}

var _ Runner = (*Fake)(nil)
var _ Uploader = (*Fake)(nil)

func (f *Fake) Run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, args)
	f.mu.Unlock()
	if f.Handler != nil {
		return f.Handler(args)
	}
	return "", nil
}

func (f *Fake) Upload(_ context.Context, path string, data []byte, _ os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Uploads == nil {
		f.Uploads = make(map[string][]byte)
	}
	f.Uploads[path] = append([]byte(nil), data...)
	return nil
}

// CommandLines renders recorded calls as space-joined strings, which keeps
// test assertions readable.
func (f *Fake) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, call := range f.Calls {
		lines = append(lines, join(call))
	}
	return lines
}

func join(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
