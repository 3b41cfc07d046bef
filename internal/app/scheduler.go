package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

// TaskScheduler enqueues background work. Implemented by *Scheduler.
type TaskScheduler interface {
	// ScheduleAgentRun queues an orchestrator run. reference makes the run unique
	// (e.g. the inbound Message-ID); afterMessageID, when set, marks the message the
	// run answers so a redelivered run that was already answered is skipped.
	ScheduleAgentRun(ctx context.Context, negotiationID, reference, afterMessageID string) error
	// ScheduleEmail queues delivery of one conversation message by email.
	ScheduleEmail(ctx context.Context, negotiationID, messageID string) error
}

// Scheduler writes tasks to the queue and wakes the dispatcher.
type Scheduler struct {
	queue      TaskQueue
	signalPath string
	logger     *log.Logger
	notifier   Triggerable
	now        func() time.Time
}

// NewScheduler returns a scheduler that touches signalPath after each new task so
// dispatchers in other processes wake up.
func NewScheduler(queue TaskQueue, signalPath string, logger *log.Logger) *Scheduler {
	return &Scheduler{queue: queue, signalPath: signalPath, logger: logger, now: time.Now}
}

// SetNotifier attaches an in-process Triggerable (e.g. *Dispatcher) poked after every enqueue.
func (s *Scheduler) SetNotifier(n Triggerable) {
	s.notifier = n
}

// ScheduleAgentRun implements TaskScheduler.
func (s *Scheduler) ScheduleAgentRun(ctx context.Context, negotiationID, reference, afterMessageID string) error {
	return s.enqueue(ctx, domain.Task{
		Kind:           domain.TaskRunAgent,
		NegotiationID:  negotiationID,
		MessageID:      afterMessageID,
		IdempotencyKey: fmt.Sprintf("run:%s:%s", negotiationID, reference),
	})
}

// ScheduleEmail implements TaskScheduler.
func (s *Scheduler) ScheduleEmail(ctx context.Context, negotiationID, messageID string) error {
	return s.enqueue(ctx, domain.Task{
		Kind:           domain.TaskSendEmail,
		NegotiationID:  negotiationID,
		MessageID:      messageID,
		IdempotencyKey: fmt.Sprintf("email:%s:%s", negotiationID, messageID),
	})
}

func (s *Scheduler) enqueue(ctx context.Context, t domain.Task) error {
	now := s.now()
	t.ID = newLogID()
	t.AvailableAt = now
	t.CreatedAt = now
	created, err := s.queue.Enqueue(ctx, t)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", t.Kind, err)
	}
	if !created {
		s.logger.Printf("Scheduler: duplicate task %s ignored", t.IdempotencyKey)
		return nil
	}
	_ = TouchNotifySignal(s.signalPath)
	if s.notifier != nil {
		s.notifier.Trigger()
	}
	return nil
}
