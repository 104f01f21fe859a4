package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemQueueFIFO(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, Job{RunID: id, SubmittedAt: time.Now()}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if job == nil || job.RunID != want {
			t.Fatalf("expected job %s, got %+v", want, job)
		}
	}
}

func TestMemQueueDequeueRespectsContext(t *testing.T) {
	q := NewMemQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	job, err := q.Dequeue(ctx)
	if err == nil || job != nil {
		t.Fatalf("expected context error on empty queue, got %+v %v", job, err)
	}
}
