// Package image turns one build artifact into an immutable tagged docker
// image. The launch command is fixed when the image is built; per-run
// configuration is passed at container start, never by rebuilding.
package image

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/example/estore/pkg/docker"
	"github.com/example/estore/pkg/runner"
)

//go:embed templates/Dockerfile.tmpl
var templates embed.FS

var (
	// ErrNoArtifact is returned when the artifact pattern matches nothing.
	ErrNoArtifact = errors.New("no artifact matches pattern")
	// ErrAmbiguousArtifact is returned when the pattern matches more than
	// one file. The image build is never attempted in that case.
	ErrAmbiguousArtifact = errors.New("artifact pattern is ambiguous")
)

// LabelArtifactVersion records which artifact version an image carries, so
// the tag-to-version mapping can be queried from the image store itself.
const LabelArtifactVersion = "com.estore.artifact-version"

// LabelManaged marks images and containers created by this pipeline.
const LabelManaged = "com.estore.managed"

// Image describes one tagged image produced by Build.
type Image struct {
	Name            string    `json:"name"`
	Tag             string    `json:"tag"`
	ArtifactVersion string    `json:"artifact_version"`
	ContainerPort   int       `json:"container_port"`
	BuiltAt         time.Time `json:"built_at"`
}

// Ref returns the name:tag reference.
func (i Image) Ref() string {
	return fmt.Sprintf("%s:%s", i.Name, i.Tag)
}

// Builder stages a build context and runs docker build against it.
type Builder struct {
	Docker docker.Client
	// Uploader places the staged context on the host docker runs on, which
	// may be a remote machine.
	Uploader runner.Uploader
	// ContextDir is where the build context is staged.
	ContextDir string
	// BinaryName is the name the artifact gets inside the image; it is also
	// the fixed entrypoint.
	BinaryName string
	// Dockerfile optionally points at an existing Dockerfile to use instead
	// of the embedded template.
	Dockerfile string
}

type dockerfileParams struct {
	Binary string
	Port   int
}

// Build resolves the artifact pattern to exactly one file, stages a context
// with it, and builds <name>:<tag>. It returns the docker build output for
// diagnostics. A rebuild with an existing tag replaces the prior image; that
// last-write-wins behavior is intentional.
func (b *Builder) Build(ctx context.Context, pattern, name, tag string, containerPort int) (Image, string, error) {
	artifactPath, err := resolveArtifact(pattern)
	if err != nil {
		return Image{}, "", err
	}
	version := versionFromPath(artifactPath)

	if err := b.stageContext(ctx, artifactPath, containerPort); err != nil {
		return Image{}, "", fmt.Errorf("stage build context: %w", err)
	}

	ref := fmt.Sprintf("%s:%s", name, tag)
	out, err := b.Docker.Build(ctx, docker.BuildOptions{
		Dockerfile: path.Join(b.ContextDir, "Dockerfile"),
		Tag:        ref,
		ContextDir: b.ContextDir,
		Labels: map[string]string{
			LabelArtifactVersion: version,
			LabelManaged:         "true",
		},
	})
	if err != nil {
		return Image{}, out, err
	}

	return Image{
		Name:            name,
		Tag:             tag,
		ArtifactVersion: version,
		ContainerPort:   containerPort,
		BuiltAt:         time.Now().UTC(),
	}, out, nil
}

// resolveArtifact requires the pattern to match exactly one file.
func resolveArtifact(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("bad artifact pattern %q: %w", pattern, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, pattern)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d files", ErrAmbiguousArtifact, pattern, len(matches))
	}
}

// versionFromPath extracts the version suffix from <binary>_<version>.
func versionFromPath(p string) string {
	base := filepath.Base(p)
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		return base[idx+1:]
	}
	return base
}

func (b *Builder) stageContext(ctx context.Context, artifactPath string, containerPort int) error {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	if err := b.Uploader.Upload(ctx, path.Join(b.ContextDir, b.BinaryName), data, 0o755); err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}

	dockerfile, err := b.renderDockerfile(containerPort)
	if err != nil {
		return err
	}
	if err := b.Uploader.Upload(ctx, path.Join(b.ContextDir, "Dockerfile"), dockerfile, 0o644); err != nil {
		return fmt.Errorf("upload dockerfile: %w", err)
	}
	return nil
}

func (b *Builder) renderDockerfile(containerPort int) ([]byte, error) {
	if b.Dockerfile != "" {
		data, err := os.ReadFile(b.Dockerfile)
		if err != nil {
			return nil, fmt.Errorf("read dockerfile: %w", err)
		}
		return data, nil
	}

	tmpl, err := template.ParseFS(templates, "templates/Dockerfile.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, dockerfileParams{Binary: b.BinaryName, Port: containerPort}); err != nil {
		return nil, fmt.Errorf("render dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}
