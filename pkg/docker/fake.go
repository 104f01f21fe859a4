package docker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests. It models just enough daemon
// state (images, containers, port bindings) to exercise the pipeline without
// docker installed.
type FakeClient struct {
	mu         sync.Mutex
	images     map[string]string   // ref -> image ID
	containers map[string]*fakeCtr // name -> container
	nextID     int

	// BoundPorts marks host ports held by processes outside the fake's own
	// containers.
	BoundPorts map[int]bool
	// Ops records every mutating call in order.
	Ops []string
}

type fakeCtr struct {
	id       string
	image    string
	imageID  string
	hostPort int
	state    string
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		images:     make(map[string]string),
		containers: make(map[string]*fakeCtr),
		BoundPorts: make(map[int]bool),
	}
}

// AddImage registers an image ref as present, returning its fake ID.
func (f *FakeClient) AddImage(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sha256:img%04d", f.nextID)
	f.images[ref] = id
	return id
}

func (f *FakeClient) record(op string) {
	f.Ops = append(f.Ops, op)
}

func (f *FakeClient) Version(ctx context.Context) (string, error) {
	return "fake", nil
}

func (f *FakeClient) Build(ctx context.Context, opts BuildOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.images[opts.Tag] = fmt.Sprintf("sha256:img%04d", f.nextID)
	f.record("build " + opts.Tag)
	return "Successfully built " + opts.Tag, nil
}

func (f *FakeClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[ref]
	return ok, nil
}

func (f *FakeClient) ListImages(ctx context.Context, repository string) ([]Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Image
	for ref, id := range f.images {
		out = append(out, Image{Ref: ref, ID: id})
	}
	return out, nil
}

func (f *FakeClient) RemoveImage(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.images[ref]
	if !ok {
		return "Error: No such image: " + ref, fmt.Errorf("rmi %s: %w", ref, ErrNoSuchImage)
	}
	for _, c := range f.containers {
		if c.imageID == id && c.state == "running" {
			return "", fmt.Errorf("rmi %s: image is being used by running container %s", ref, c.id)
		}
	}
	delete(f.images, ref)
	f.record("rmi " + ref)
	return "Untagged: " + ref, nil
}

func (f *FakeClient) PruneDangling(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("prune")
	return "Total reclaimed space: 0B", nil
}

func (f *FakeClient) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[opts.Name]; ok {
		return "", fmt.Errorf("run %s: %w", opts.Name, ErrNameConflict)
	}
	imageID, ok := f.images[opts.Image]
	if !ok {
		return "", fmt.Errorf("run %s: %w", opts.Name, ErrNoSuchImage)
	}
	if f.BoundPorts[opts.HostPort] {
		return "", fmt.Errorf("run %s: %w", opts.Name, ErrPortInUse)
	}
	for _, c := range f.containers {
		if c.state == "running" && c.hostPort == opts.HostPort {
			return "", fmt.Errorf("run %s: %w", opts.Name, ErrPortInUse)
		}
	}
	f.nextID++
	id := fmt.Sprintf("ctr%04d", f.nextID)
	f.containers[opts.Name] = &fakeCtr{
		id:       id,
		image:    opts.Image,
		imageID:  imageID,
		hostPort: opts.HostPort,
		state:    "running",
	}
	f.record("run " + opts.Name)
	return id, nil
}

func (f *FakeClient) StopContainer(ctx context.Context, name string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("stop %s: %w", name, ErrNoSuchContainer)
	}
	c.state = "exited"
	f.record("stop " + name)
	return nil
}

func (f *FakeClient) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("rm %s: %w", name, ErrNoSuchContainer)
	}
	delete(f.containers, name)
	f.record("rm " + name)
	return nil
}

func (f *FakeClient) FindContainer(ctx context.Context, name string) (*Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, nil
	}
	return &Container{ID: c.id, Name: name, Image: c.image, State: c.state}, nil
}

func (f *FakeClient) ContainerImageID(ctx context.Context, nameOrID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.id == nameOrID {
			return c.imageID, nil
		}
	}
	if c, ok := f.containers[nameOrID]; ok {
		return c.imageID, nil
	}
	return "", fmt.Errorf("inspect %s: %w", nameOrID, ErrNoSuchContainer)
}

// RunningCount reports how many containers are currently running.
func (f *FakeClient) RunningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.containers {
		if c.state == "running" {
			n++
		}
	}
	return n
}
