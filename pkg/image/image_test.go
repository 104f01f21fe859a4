package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/estore/pkg/docker"
	"github.com/example/estore/pkg/runner"
)

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func newBuilder(fake *runner.Fake, ctxDir string) *Builder {
	return &Builder{
		Docker:     docker.NewCmdClient(fake),
		Uploader:   fake,
		ContextDir: ctxDir,
		BinaryName: "estore-server",
	}
}

func TestBuildTagsAndLabelsImage(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "estore-server_1.0")

	fake := &runner.Fake{}
	b := newBuilder(fake, filepath.Join(dir, "ctx"))

	img, _, err := b.Build(context.Background(), filepath.Join(dir, "estore-server_*"), "estore", "1.0", 9090)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if img.Ref() != "estore:1.0" || img.ArtifactVersion != "1.0" {
		t.Fatalf("unexpected image: %+v", img)
	}

	lines := fake.CommandLines()
	if len(lines) != 1 {
		t.Fatalf("expected one docker command, got %v", lines)
	}
	if !strings.Contains(lines[0], "-t estore:1.0") ||
		!strings.Contains(lines[0], "--label com.estore.artifact-version=1.0") {
		t.Fatalf("unexpected build command: %q", lines[0])
	}

	// The staged context contains the artifact under its stable name plus
	// the rendered Dockerfile.
	dockerfile := string(fake.Uploads[filepath.Join(dir, "ctx", "Dockerfile")])
	if !strings.Contains(dockerfile, "EXPOSE 9090") ||
		!strings.Contains(dockerfile, `ENTRYPOINT ["/usr/local/bin/estore-server"]`) {
		t.Fatalf("unexpected dockerfile:\n%s", dockerfile)
	}
	if _, ok := fake.Uploads[filepath.Join(dir, "ctx", "estore-server")]; !ok {
		t.Fatalf("artifact missing from context: %v", fake.Uploads)
	}
}

func TestBuildFailsWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	fake := &runner.Fake{}
	b := newBuilder(fake, filepath.Join(dir, "ctx"))

	_, _, err := b.Build(context.Background(), filepath.Join(dir, "estore-server_*"), "estore", "1.0", 9090)
	if !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("docker build invoked despite missing artifact: %v", fake.CommandLines())
	}
}

func TestBuildFailsOnAmbiguousPattern(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "estore-server_1.0")
	writeArtifact(t, dir, "estore-server_1.1")

	fake := &runner.Fake{}
	b := newBuilder(fake, filepath.Join(dir, "ctx"))

	_, _, err := b.Build(context.Background(), filepath.Join(dir, "estore-server_*"), "estore", "1.0", 9090)
	if !errors.Is(err, ErrAmbiguousArtifact) {
		t.Fatalf("expected ErrAmbiguousArtifact, got %v", err)
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("docker build invoked despite ambiguous pattern: %v", fake.CommandLines())
	}
}

func TestBuildUsesProvidedDockerfile(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "estore-server_2.0")
	custom := filepath.Join(dir, "Dockerfile.custom")
	if err := os.WriteFile(custom, []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &runner.Fake{}
	b := newBuilder(fake, filepath.Join(dir, "ctx"))
	b.Dockerfile = custom

	if _, _, err := b.Build(context.Background(), filepath.Join(dir, "estore-server_*"), "estore", "2.0", 9090); err != nil {
		t.Fatalf("build: %v", err)
	}
	got := string(fake.Uploads[filepath.Join(dir, "ctx", "Dockerfile")])
	if got != "FROM scratch\n" {
		t.Fatalf("custom dockerfile not staged: %q", got)
	}
}
