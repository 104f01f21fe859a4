package docker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/estore/pkg/runner"
)

func TestBuildCommandLine(t *testing.T) {
	fake := &runner.Fake{}
	client := NewCmdClient(fake)

	_, err := client.Build(context.Background(), BuildOptions{
		Dockerfile: "dist/ctx/Dockerfile",
		Tag:        "estore:1.0",
		ContextDir: "dist/ctx",
		Labels: map[string]string{
			"com.estore.managed":          "true",
			"com.estore.artifact-version": "1.0",
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	lines := fake.CommandLines()
	if len(lines) != 1 {
		t.Fatalf("expected one command, got %v", lines)
	}
	want := "docker build -f dist/ctx/Dockerfile -t estore:1.0 " +
		"--label com.estore.artifact-version=1.0 --label com.estore.managed=true dist/ctx"
	if lines[0] != want {
		t.Fatalf("unexpected command line:\n got %q\nwant %q", lines[0], want)
	}
}

func TestImageExists(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "sha256:abc123\n", nil
	}}
	client := NewCmdClient(fake)

	ok, err := client.ImageExists(context.Background(), "estore:1.0")
	if err != nil {
		t.Fatalf("image exists: %v", err)
	}
	if !ok {
		t.Fatalf("expected image to exist")
	}
}

func TestImageExistsMissing(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "Error: No such image: estore:1.0", errors.New("exit status 1")
	}}
	client := NewCmdClient(fake)

	ok, err := client.ImageExists(context.Background(), "estore:1.0")
	if err != nil {
		t.Fatalf("expected miss to be classified, got %v", err)
	}
	if ok {
		t.Fatalf("expected image to be missing")
	}
}

func TestRunContainerCommandLine(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "f00dcafe\n", nil
	}}
	client := NewCmdClient(fake)

	id, err := client.RunContainer(context.Background(), RunOptions{
		Name:          "estore",
		Image:         "estore:1.0",
		HostPort:      9090,
		ContainerPort: 9090,
		Env:           map[string]string{"ESTORE_LISTEN_ADDR": ":9090"},
		Labels:        map[string]string{"com.estore.managed": "true"},
	})
	if err != nil {
		t.Fatalf("run container: %v", err)
	}
	if id != "f00dcafe" {
		t.Fatalf("expected trimmed container id, got %q", id)
	}

	want := "docker run -d --name estore -p 9090:9090 " +
		"-e ESTORE_LISTEN_ADDR=:9090 --label com.estore.managed=true estore:1.0"
	if lines := fake.CommandLines(); lines[0] != want {
		t.Fatalf("unexpected command line:\n got %q\nwant %q", lines[0], want)
	}
}

func TestRunContainerPortConflict(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "docker: Error response from daemon: driver failed programming external connectivity: " +
			"Bind for 0.0.0.0:9090 failed: port is already allocated.", errors.New("exit status 125")
	}}
	client := NewCmdClient(fake)

	_, err := client.RunContainer(context.Background(), RunOptions{
		Name: "estore", Image: "estore:1.0", HostPort: 9090, ContainerPort: 9090,
	})
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
}

func TestStopContainerMissing(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "Error response from daemon: No such container: estore", errors.New("exit status 1")
	}}
	client := NewCmdClient(fake)

	err := client.StopContainer(context.Background(), "estore", 15*time.Second)
	if !errors.Is(err, ErrNoSuchContainer) {
		t.Fatalf("expected ErrNoSuchContainer, got %v", err)
	}
}

func TestStopContainerGraceSeconds(t *testing.T) {
	fake := &runner.Fake{}
	client := NewCmdClient(fake)

	if err := client.StopContainer(context.Background(), "estore", 15*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if lines := fake.CommandLines(); lines[0] != "docker stop -t 15 estore" {
		t.Fatalf("unexpected command line %q", lines[0])
	}
}

func TestFindContainerParsesRow(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "abc123\testore:0.9\trunning\testore\n", nil
	}}
	client := NewCmdClient(fake)

	ctr, err := client.FindContainer(context.Background(), "estore")
	if err != nil {
		t.Fatalf("find container: %v", err)
	}
	if ctr == nil {
		t.Fatalf("expected container")
	}
	if ctr.ID != "abc123" || ctr.Image != "estore:0.9" || !ctr.Running() || ctr.Name != "estore" {
		t.Fatalf("unexpected container %+v", ctr)
	}

	if line := fake.CommandLines()[0]; !strings.Contains(line, "name=^/estore$") {
		t.Fatalf("expected exact-name filter, got %q", line)
	}
}

func TestFindContainerMissing(t *testing.T) {
	fake := &runner.Fake{}
	client := NewCmdClient(fake)

	ctr, err := client.FindContainer(context.Background(), "estore")
	if err != nil {
		t.Fatalf("find container: %v", err)
	}
	if ctr != nil {
		t.Fatalf("expected nil for missing container, got %+v", ctr)
	}
}

func TestListImages(t *testing.T) {
	fake := &runner.Fake{Handler: func(args []string) (string, error) {
		return "estore:1.0\taaa111\nestore:<none>\tbbb222\n", nil
	}}
	client := NewCmdClient(fake)

	images, err := client.ListImages(context.Background(), "estore")
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected two images, got %v", images)
	}
	if !images[0].Tagged() || images[1].Tagged() {
		t.Fatalf("unexpected tag state %v", images)
	}
}
