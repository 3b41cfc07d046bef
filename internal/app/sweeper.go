package app

import (
	"context"
	"log"
	"time"
)

const defaultSweepInterval = 30 * time.Second

// Sweeper periodically returns tasks whose lease expired (worker crashed or hung)
// to the queue so they are delivered again.
type Sweeper struct {
	queue    TaskQueue
	logger   *log.Logger
	interval time.Duration
	notifier Triggerable
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the check interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithSweeperNotifier sets the target woken after tasks are requeued.
func WithSweeperNotifier(n Triggerable) SweeperOption {
	return func(s *Sweeper) { s.notifier = n }
}

// NewSweeper creates a new Sweeper.
func NewSweeper(queue TaskQueue, logger *log.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		queue:    queue,
		logger:   logger,
		interval: defaultSweepInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins the sweep loop. Returns when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.doneCh)
	s.logger.Printf("Sweeper: started (interval=%s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Sweeper: stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Println("Sweeper: stopped")
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// CheckOnce runs one sweep and returns the number of requeued tasks.
func (s *Sweeper) CheckOnce(ctx context.Context) int {
	n, err := s.queue.RequeueExpired(ctx, s.now())
	if err != nil {
		s.logger.Printf("Sweeper: requeue failed: %v", err)
		return 0
	}
	if n > 0 {
		s.logger.Printf("Sweeper: requeued %d task(s) with expired leases", n)
		if s.notifier != nil {
			s.notifier.Trigger()
		}
	}
	return n
}
