// Package memqueue is an in-process task queue for single-node runs and tests.
// Tasks do not survive a restart.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

// Queue implements app.TaskQueue in memory.
type Queue struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
	keys  map[string]string // idempotency key -> task id
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		tasks: make(map[string]*domain.Task),
		keys:  make(map[string]string),
	}
}

// Enqueue stores t unless its idempotency key was seen before. Keys are remembered
// after the task is acked so a late duplicate is still ignored.
func (q *Queue) Enqueue(_ context.Context, t domain.Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.keys[t.IdempotencyKey]; dup {
		return false, nil
	}
	q.keys[t.IdempotencyKey] = t.ID
	cp := t
	q.tasks[t.ID] = &cp
	return true, nil
}

// Lease claims the oldest due task.
func (q *Queue) Lease(_ context.Context, now time.Time, lease time.Duration) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*domain.Task
	for _, t := range q.tasks {
		if !t.AvailableAt.After(now) && !t.LeasedUntil.After(now) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].AvailableAt.Equal(due[j].AvailableAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].AvailableAt.Before(due[j].AvailableAt)
	})
	t := due[0]
	t.Attempts++
	t.LeasedUntil = now.Add(lease)
	cp := *t
	return &cp, nil
}

// Ack removes a task.
func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, id)
	return nil
}

// Nack releases a task for another attempt at retryAt.
func (q *Queue) Nack(_ context.Context, id string, retryAt time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		t.AvailableAt = retryAt
		t.LeasedUntil = time.Time{}
		t.LastError = lastErr
	}
	return nil
}

// RequeueExpired clears leases that ran out.
func (q *Queue) RequeueExpired(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if !t.LeasedUntil.IsZero() && !t.LeasedUntil.After(now) {
			t.LeasedUntil = time.Time{}
			n++
		}
	}
	return n, nil
}

// Len returns the number of tasks not yet acked.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Pending returns a copy of all tasks not yet acked, oldest first.
func (q *Queue) Pending() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
