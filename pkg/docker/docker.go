// Package docker wraps the docker CLI behind a small client interface so the
// pipeline can target the local daemon or a remote host through the same code
// path.
package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/estore/pkg/runner"
)

var (
	// ErrNoSuchImage is returned when an image reference does not exist.
	ErrNoSuchImage = errors.New("no such image")
	// ErrNoSuchContainer is returned when a container name or ID does not exist.
	ErrNoSuchContainer = errors.New("no such container")
	// ErrPortInUse is returned when the host port is already bound.
	ErrPortInUse = errors.New("host port already in use")
	// ErrNameConflict is returned when the container name is already taken.
	ErrNameConflict = errors.New("container name already in use")
)

// Container describes one container as reported by docker ps.
type Container struct {
	ID    string
	Name  string
	Image string
	State string
}

// Running reports whether the container is currently running.
func (c Container) Running() bool {
	return c.State == "running"
}

// Image describes one image as reported by docker images.
type Image struct {
	Ref string
	ID  string
}

// Tagged reports whether the image still carries a usable reference.
func (i Image) Tagged() bool {
	return i.Ref != "" && !strings.Contains(i.Ref, "<none>")
}

// BuildOptions describe one docker build invocation.
type BuildOptions struct {
	Dockerfile string
	Tag        string
	ContextDir string
	Labels     map[string]string
}

// RunOptions describe one docker run invocation.
type RunOptions struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Env           map[string]string
	Labels        map[string]string
}

// Client is the docker surface the pipeline depends on.
type Client interface {
	Version(ctx context.Context) (string, error)
	Build(ctx context.Context, opts BuildOptions) (string, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	ListImages(ctx context.Context, repository string) ([]Image, error)
	RemoveImage(ctx context.Context, ref string) (string, error)
	PruneDangling(ctx context.Context) (string, error)
	RunContainer(ctx context.Context, opts RunOptions) (string, error)
	StopContainer(ctx context.Context, name string, grace time.Duration) error
	RemoveContainer(ctx context.Context, name string) error
	FindContainer(ctx context.Context, name string) (*Container, error)
	ContainerImageID(ctx context.Context, nameOrID string) (string, error)
}

// CmdClient implements Client by shelling out to the docker CLI through a
// runner.Runner.
type CmdClient struct {
	runner runner.Runner
}

var _ Client = (*CmdClient)(nil)

func NewCmdClient(r runner.Runner) *CmdClient {
	return &CmdClient{runner: r}
}

// Version checks that the docker daemon is reachable.
func (c *CmdClient) Version(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", wrapErr("docker version", out, err)
	}
	return strings.TrimSpace(out), nil
}

// Build runs docker build and returns the build output.
func (c *CmdClient) Build(ctx context.Context, opts BuildOptions) (string, error) {
	args := []string{"docker", "build", "-f", opts.Dockerfile, "-t", opts.Tag}
	for _, kv := range sortedPairs(opts.Labels) {
		args = append(args, "--label", kv)
	}
	args = append(args, opts.ContextDir)

	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return out, wrapErr("docker build", out, err)
	}
	return out, nil
}

// ImageExists reports whether the given reference resolves to a local image.
func (c *CmdClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	out, err := c.runner.Run(ctx, "docker", "image", "inspect", "--format", "{{.Id}}", ref)
	if err != nil {
		wrapped := wrapErr("docker image inspect", out, err)
		if errors.Is(wrapped, ErrNoSuchImage) {
			return false, nil
		}
		return false, wrapped
	}
	return strings.TrimSpace(out) != "", nil
}

// ListImages returns every local image of the given repository, including
// untagged leftovers from earlier builds.
func (c *CmdClient) ListImages(ctx context.Context, repository string) ([]Image, error) {
	out, err := c.runner.Run(ctx, "docker", "images", repository, "--format", "{{.Repository}}:{{.Tag}}\t{{.ID}}")
	if err != nil {
		return nil, wrapErr("docker images", out, err)
	}

	var images []Image
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			continue
		}
		images = append(images, Image{Ref: parts[0], ID: parts[1]})
	}
	return images, nil
}

// RemoveImage untags or removes the given image reference.
func (c *CmdClient) RemoveImage(ctx context.Context, ref string) (string, error) {
	out, err := c.runner.Run(ctx, "docker", "rmi", ref)
	if err != nil {
		return out, wrapErr("docker rmi", out, err)
	}
	return out, nil
}

// PruneDangling removes dangling image layers left behind by rebuilds.
func (c *CmdClient) PruneDangling(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, "docker", "image", "prune", "-f")
	if err != nil {
		return out, wrapErr("docker image prune", out, err)
	}
	return out, nil
}

// RunContainer starts a detached container and returns its ID.
func (c *CmdClient) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	args := []string{"docker", "run", "-d", "--name", opts.Name,
		"-p", fmt.Sprintf("%d:%d", opts.HostPort, opts.ContainerPort)}
	for _, kv := range sortedPairs(opts.Env) {
		args = append(args, "-e", kv)
	}
	for _, kv := range sortedPairs(opts.Labels) {
		args = append(args, "--label", kv)
	}
	args = append(args, opts.Image)

	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return "", wrapErr("docker run", out, err)
	}
	return strings.TrimSpace(out), nil
}

// StopContainer stops a container, giving it the grace period to exit before
// the daemon kills it.
func (c *CmdClient) StopContainer(ctx context.Context, name string, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	out, err := c.runner.Run(ctx, "docker", "stop", "-t", strconv.Itoa(seconds), name)
	return wrapErr("docker stop", out, err)
}

// RemoveContainer removes a stopped container.
func (c *CmdClient) RemoveContainer(ctx context.Context, name string) error {
	out, err := c.runner.Run(ctx, "docker", "rm", name)
	return wrapErr("docker rm", out, err)
}

// FindContainer looks up a container by exact name across all states. It
// returns nil when no container has that name.
func (c *CmdClient) FindContainer(ctx context.Context, name string) (*Container, error) {
	out, err := c.runner.Run(ctx, "docker", "ps", "-a",
		"--filter", fmt.Sprintf("name=^/%s$", name),
		"--format", "{{.ID}}\t{{.Image}}\t{{.State}}\t{{.Names}}")
	if err != nil {
		return nil, wrapErr("docker ps", out, err)
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			continue
		}
		return &Container{ID: parts[0], Image: parts[1], State: parts[2], Name: parts[3]}, nil
	}
	return nil, nil
}

// ContainerImageID returns the image ID a container was created from.
func (c *CmdClient) ContainerImageID(ctx context.Context, nameOrID string) (string, error) {
	out, err := c.runner.Run(ctx, "docker", "inspect", "--format", "{{.Image}}", nameOrID)
	if err != nil {
		return "", wrapErr("docker inspect", out, err)
	}
	return strings.TrimSpace(out), nil
}

// sortedPairs renders a map as k=v strings in key order so generated command
// lines are stable.
func sortedPairs(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return pairs
}

// wrapErr folds the command output into the returned error and maps known
// daemon messages onto sentinel errors.
func wrapErr(op, out string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(out)
	switch {
	case strings.Contains(msg, "No such image"):
		return fmt.Errorf("%s: %w", op, ErrNoSuchImage)
	case strings.Contains(msg, "No such container"):
		return fmt.Errorf("%s: %w", op, ErrNoSuchContainer)
	case strings.Contains(msg, "port is already allocated"),
		strings.Contains(msg, "address already in use"):
		return fmt.Errorf("%s: %w: %s", op, ErrPortInUse, msg)
	case strings.Contains(msg, "is already in use by container"):
		return fmt.Errorf("%s: %w: %s", op, ErrNameConflict, msg)
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %s", op, err, msg)
}
