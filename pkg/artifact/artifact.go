// Package artifact builds the deployable service binary into a clean
// workspace and verifies the output before the pipeline moves on.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/estore/pkg/runner"
)

// ErrEmptyArtifact indicates the build command exited cleanly but left no
// usable output behind.
var ErrEmptyArtifact = errors.New("artifact missing or empty after build")

// Artifact is one immutable build output. It is produced by a single Build
// call and consumed by exactly one image build.
type Artifact struct {
	Path    string    `json:"path"`
	Version string    `json:"version"`
	Size    int64     `json:"size"`
	BuiltAt time.Time `json:"built_at"`
}

// Builder compiles the service into a single binary artifact.
type Builder struct {
	Runner runner.Runner
	// Workspace is recreated on every build so stale or partial outputs from
	// a failed prior run can never be mistaken for valid artifacts.
	Workspace string
	// Package is the Go package path to compile.
	Package string
	// BinaryName is the artifact file name prefix; the version is appended
	// after an underscore.
	BinaryName string
}

// Build compiles the configured package into Workspace and returns the
// artifact plus the combined build output for diagnostics. The output path is
// deterministic: <workspace>/<binary>_<version>.
func (b *Builder) Build(ctx context.Context, version string) (Artifact, string, error) {
	if err := b.resetWorkspace(); err != nil {
		return Artifact{}, "", fmt.Errorf("reset workspace: %w", err)
	}

	outPath := filepath.Join(b.Workspace, fmt.Sprintf("%s_%s", b.BinaryName, version))
	out, err := b.Runner.Run(ctx, "go", "build", "-trimpath", "-o", outPath, b.Package)
	if err != nil {
		return Artifact{}, out, fmt.Errorf("build %s: %w", b.Package, err)
	}

	// The compiler exiting 0 is not enough: verify the artifact actually
	// exists and is non-empty before any containerization happens.
	info, err := os.Stat(outPath)
	if err != nil {
		return Artifact{}, out, fmt.Errorf("%w: %s", ErrEmptyArtifact, outPath)
	}
	if info.Size() == 0 {
		return Artifact{}, out, fmt.Errorf("%w: %s", ErrEmptyArtifact, outPath)
	}

	return Artifact{
		Path:    outPath,
		Version: version,
		Size:    info.Size(),
		BuiltAt: time.Now().UTC(),
	}, out, nil
}

func (b *Builder) resetWorkspace() error {
	if err := os.RemoveAll(b.Workspace); err != nil {
		return err
	}
	return os.MkdirAll(b.Workspace, 0o755)
}
