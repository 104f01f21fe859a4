// Package runtime supervises the single named container instance the
// pipeline deploys. State is always queried fresh from the docker daemon,
// never cached across runs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/estore/pkg/docker"
)

var (
	// ErrImageNotFound is returned when the image reference to deploy does
	// not resolve locally.
	ErrImageNotFound = errors.New("deploy image not found")
	// ErrPortInUse is returned when the host port is held by a process
	// outside the instance being replaced.
	ErrPortInUse = errors.New("host port already bound")
)

// Instance is one named container bound to an image and a port pair.
type Instance struct {
	Name          string `json:"name"`
	ImageRef      string `json:"image_ref"`
	ContainerID   string `json:"container_id"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	State         string `json:"state"`
}

// DeployOptions describe one stop-remove-start cycle.
type DeployOptions struct {
	Name          string
	ImageRef      string
	HostPort      int
	ContainerPort int
	// Env holds per-run launch parameters. They are passed to docker run,
	// never baked into the image.
	Env map[string]string
}

// Supervisor replaces the named instance with a fresh container.
type Supervisor struct {
	Docker docker.Client
	Log    *slog.Logger
	// StopGrace is how long a container gets to exit before the daemon
	// kills it.
	StopGrace time.Duration
}

// Deploy stops and removes any prior instance with the given name, then
// starts a new detached container from the image. "No such container" during
// stop and remove is treated as success so the pipeline stays re-runnable
// from a clean or partially failed prior state.
func (s *Supervisor) Deploy(ctx context.Context, opts DeployOptions) (Instance, error) {
	// Resolve the image before disturbing the prior instance: a missing
	// image must never tear down a healthy deployment.
	exists, err := s.Docker.ImageExists(ctx, opts.ImageRef)
	if err != nil {
		return Instance{}, fmt.Errorf("inspect image: %w", err)
	}
	if !exists {
		return Instance{}, fmt.Errorf("%w: %s", ErrImageNotFound, opts.ImageRef)
	}

	prior, err := s.Current(ctx, opts.Name)
	if err != nil {
		return Instance{}, err
	}
	if prior != nil {
		s.Log.Info("replacing prior instance", "name", opts.Name, "state", prior.State)
		if err := s.stopAndRemove(ctx, opts.Name); err != nil {
			return Instance{}, err
		}
	}

	id, err := s.Docker.RunContainer(ctx, docker.RunOptions{
		Name:          opts.Name,
		Image:         opts.ImageRef,
		HostPort:      opts.HostPort,
		ContainerPort: opts.ContainerPort,
		Env:           opts.Env,
		Labels:        map[string]string{"com.estore.managed": "true"},
	})
	if err != nil {
		switch {
		case errors.Is(err, docker.ErrPortInUse):
			// The prior instance is already stopped at this point and is
			// deliberately not restarted.
			return Instance{}, fmt.Errorf("%w: %d: %v", ErrPortInUse, opts.HostPort, err)
		case errors.Is(err, docker.ErrNoSuchImage):
			return Instance{}, fmt.Errorf("%w: %s", ErrImageNotFound, opts.ImageRef)
		default:
			return Instance{}, fmt.Errorf("start instance: %w", err)
		}
	}

	s.Log.Info("instance started", "name", opts.Name, "image", opts.ImageRef,
		"host_port", opts.HostPort, "container_port", opts.ContainerPort)
	return Instance{
		Name:          opts.Name,
		ImageRef:      opts.ImageRef,
		ContainerID:   id,
		HostPort:      opts.HostPort,
		ContainerPort: opts.ContainerPort,
		State:         "running",
	}, nil
}

// Current looks the named instance up fresh from the daemon. It returns nil
// when no container holds the name.
func (s *Supervisor) Current(ctx context.Context, name string) (*Instance, error) {
	c, err := s.Docker.FindContainer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("look up instance %s: %w", name, err)
	}
	if c == nil {
		return nil, nil
	}
	return &Instance{
		Name:        c.Name,
		ImageRef:    c.Image,
		ContainerID: c.ID,
		State:       c.State,
	}, nil
}

// Teardown stops and removes the named instance if present. A name that
// resolves to nothing is success.
func (s *Supervisor) Teardown(ctx context.Context, name string) error {
	return s.stopAndRemove(ctx, name)
}

func (s *Supervisor) stopAndRemove(ctx context.Context, name string) error {
	grace := s.StopGrace
	if grace == 0 {
		grace = 10 * time.Second
	}
	if err := s.Docker.StopContainer(ctx, name, grace); err != nil {
		if !errors.Is(err, docker.ErrNoSuchContainer) {
			return fmt.Errorf("stop instance %s: %w", name, err)
		}
		s.Log.Info("instance already stopped", "name", name)
	}
	if err := s.Docker.RemoveContainer(ctx, name); err != nil {
		if !errors.Is(err, docker.ErrNoSuchContainer) {
			return fmt.Errorf("remove instance %s: %w", name, err)
		}
		s.Log.Info("instance already removed", "name", name)
	}
	return nil
}
