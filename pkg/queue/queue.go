// Package queue serializes deployment runs. A single worker dequeues jobs in
// FIFO order, which is the mutual-exclusion hardening the pipeline needs when
// triggers can fire concurrently.
package queue

import (
	"context"
	"time"
)

// Job is one queued deployment run. The run record itself lives in the
// history stores; the job carries only the identity and per-run overrides.
type Job struct {
	RunID       string            `json:"run_id"`
	ImageTag    string            `json:"image_tag,omitempty"`
	HostPort    int               `json:"host_port,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Queue hands jobs from the API to the worker in submission order.
type Queue interface {
	// Enqueue appends a job.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks for the next job. It returns nil without error when no
	// job arrived within the poll window, letting the worker re-check its
	// context.
	Dequeue(ctx context.Context) (*Job, error)
	Close() error
}

var (
	_ Queue = (*MemQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
)

// MemQueue is the in-process queue used when no redis backend is configured.
type MemQueue struct {
	jobs chan Job
}

func NewMemQueue() *MemQueue {
	return &MemQueue{jobs: make(chan Job, 64)}
}

func (q *MemQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return &job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, nil
	}
}

func (q *MemQueue) Close() error {
	return nil
}
