package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

const (
	defaultDispatchWorkers      = 4
	defaultDispatchPollInterval = 5 * time.Second
	defaultTaskLease            = 2 * time.Minute
	defaultTaskMaxAttempts      = 5
)

// TaskHandler executes one task. A returned error schedules a retry.
type TaskHandler func(ctx context.Context, t domain.Task) error

// Dispatcher leases due tasks from the queue and runs their handlers on a worker pool.
// Delivery is at least once: a task is acked only after its handler returns nil.
type Dispatcher struct {
	queue        TaskQueue
	logger       *log.Logger
	workers      int
	pollInterval time.Duration
	lease        time.Duration
	maxAttempts  int
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[domain.TaskKind]TaskHandler

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDispatchPollInterval sets how often idle workers look for due tasks.
func WithDispatchPollInterval(p time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.pollInterval = p }
}

// WithLease sets how long a leased task is hidden from other workers.
func WithLease(l time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.lease = l }
}

// WithMaxAttempts sets how many deliveries a failing task gets before it is dropped.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// NewDispatcher creates a dispatcher over queue.
func NewDispatcher(queue TaskQueue, logger *log.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:        queue,
		logger:       logger,
		workers:      defaultDispatchWorkers,
		pollInterval: defaultDispatchPollInterval,
		lease:        defaultTaskLease,
		maxAttempts:  defaultTaskMaxAttempts,
		now:          time.Now,
		handlers:     make(map[domain.TaskKind]TaskHandler),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle registers the handler for a task kind.
func (d *Dispatcher) Handle(kind domain.TaskKind, h TaskHandler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// Start runs the worker pool. Returns when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.doneCh)
	d.logger.Printf("Dispatcher: started (workers=%d, poll=%s, lease=%s)", d.workers, d.pollInterval, d.lease)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}
	wg.Wait()
	d.logger.Println("Dispatcher: stopped")
}

// Stop signals the dispatcher to stop and waits for in-flight tasks.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// Trigger wakes one idle worker. Implements Triggerable.
func (d *Dispatcher) Trigger() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// DrainOnce processes due tasks until none remain and returns how many ran.
func (d *Dispatcher) DrainOnce(ctx context.Context) int {
	ran := 0
	for ctx.Err() == nil {
		t, err := d.queue.Lease(ctx, d.now(), d.lease)
		if err != nil {
			d.logger.Printf("Dispatcher: lease failed: %v", err)
			return ran
		}
		if t == nil {
			return ran
		}
		// Let another worker pick up the next task while this one runs.
		d.Trigger()
		d.process(ctx, *t)
		ran++
	}
	return ran
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		d.DrainOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.wakeCh:
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, t domain.Task) {
	d.mu.RLock()
	h := d.handlers[t.Kind]
	d.mu.RUnlock()

	if h == nil {
		d.logger.Printf("Dispatcher: no handler for %s task %s, dropping", t.Kind, t.ID)
		d.ack(ctx, t)
		return
	}

	err := d.safeRun(ctx, h, t)
	if err == nil {
		d.ack(ctx, t)
		return
	}
	if t.Attempts >= d.maxAttempts {
		d.logger.Printf("Dispatcher: %s task %s for negotiation %s failed after %d attempts, dropping: %v",
			t.Kind, t.ID, t.NegotiationID, t.Attempts, err)
		d.ack(ctx, t)
		return
	}
	retryAt := d.now().Add(backoff(t.Attempts))
	d.logger.Printf("Dispatcher: %s task %s attempt %d failed, retry at %s: %v",
		t.Kind, t.ID, t.Attempts, retryAt.Format(time.RFC3339), err)
	if nerr := d.queue.Nack(ctx, t.ID, retryAt, err.Error()); nerr != nil {
		d.logger.Printf("Dispatcher: nack %s failed: %v", t.ID, nerr)
	}
}

func (d *Dispatcher) safeRun(ctx context.Context, h TaskHandler, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}

func (d *Dispatcher) ack(ctx context.Context, t domain.Task) {
	if err := d.queue.Ack(ctx, t.ID); err != nil {
		d.logger.Printf("Dispatcher: ack %s failed: %v", t.ID, err)
	}
}

// backoff grows linearly per attempt, capped at five minutes.
func backoff(attempt int) time.Duration {
	b := time.Duration(attempt) * 10 * time.Second
	if b > 5*time.Minute {
		b = 5 * time.Minute
	}
	return b
}
