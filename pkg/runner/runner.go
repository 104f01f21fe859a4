package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner executes commands on the host the pipeline deploys to, either the
// local machine or a remote target reached over SSH.
type Runner interface {
	// Run executes a command and returns its combined output. The output is
	// returned even when the command fails so callers can inspect stderr.
	Run(ctx context.Context, args ...string) (string, error)
}

// Uploader places files on the host a Runner executes against.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, perm os.FileMode) error
}

// Local runs commands on the local machine.
type Local struct {
	// Dir is the working directory for commands. Empty means the process
	// working directory.
	Dir string
}

var _ Runner = (*Local)(nil)
var _ Uploader = (*Local)(nil)

func (l *Local) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = l.Dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Upload writes a file on the local filesystem, creating parent directories
// as needed. Relative paths resolve against Dir.
func (l *Local) Upload(_ context.Context, path string, data []byte, perm os.FileMode) error {
	if l.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.Dir, path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}
