package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

// Triggerable is something that can be triggered after a queue write (e.g. Notifier).
type Triggerable interface {
	Trigger()
}

// EventSink receives change events for live clients. Implemented by internal/events.
type EventSink interface {
	NegotiationChanged(n *domain.Negotiation)
	NotificationCreated(n domain.Notification)
}

// maxSaveAttempts bounds how often Run reloads after losing a save to another writer.
const maxSaveAttempts = 5

// NegotiationService runs negotiation use cases over persisted state.
// Writes to one negotiation are serialized; different negotiations proceed in parallel.
type NegotiationService struct {
	repo          NegotiationRepository
	configs       AgentConfigRepository
	notifications NotificationRepository
	policy        Policy
	logger        *log.Logger
	events        EventSink
	scheduler     TaskScheduler
	now           func() time.Time
	locks         keyedMutex
}

// ServiceOption configures the service.
type ServiceOption func(*NegotiationService)

// WithEventSink attaches a sink that is told about every committed write.
func WithEventSink(e EventSink) ServiceOption {
	return func(s *NegotiationService) { s.events = e }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *NegotiationService) { s.now = now }
}

// NewNegotiationService returns a new NegotiationService.
func NewNegotiationService(repo NegotiationRepository, configs AgentConfigRepository, notifications NotificationRepository, policy Policy, logger *log.Logger, opts ...ServiceOption) *NegotiationService {
	s := &NegotiationService{
		repo:          repo,
		configs:       configs,
		notifications: notifications,
		policy:        policy,
		logger:        logger,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetScheduler attaches the scheduler used by human actions that start agent runs or emails.
func (s *NegotiationService) SetScheduler(sch TaskScheduler) {
	s.scheduler = sch
}

// Run loads negotiation id, runs fn, then saves. Caller must not retain n after fn returns.
// Writers in other processes are detected at save time; fn is then re-run on a fresh load,
// so it must not have effects outside n. A missing negotiation yields an error wrapping ErrNotFound.
func (s *NegotiationService) Run(ctx context.Context, id string, fn func(n *domain.Negotiation) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	for attempt := 1; ; attempt++ {
		n, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("negotiation load: %w", err)
		}
		if err := fn(n); err != nil {
			return err
		}
		err = s.repo.Save(ctx, n)
		if errors.Is(err, ErrConflict) && attempt < maxSaveAttempts {
			s.logger.Printf("Service: negotiation %s changed by another writer, retrying (attempt %d)", id, attempt)
			continue
		}
		if err != nil {
			return fmt.Errorf("negotiation save: %w", err)
		}
		if s.events != nil {
			s.events.NegotiationChanged(n)
		}
		return nil
	}
}

// Query loads negotiation id and runs fn without saving.
func (s *NegotiationService) Query(ctx context.Context, id string, fn func(n *domain.Negotiation) error) error {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("negotiation load: %w", err)
	}
	return fn(n)
}

// IncrementReplyCount bumps the agent reply counter inside the negotiation's write section.
func (s *NegotiationService) IncrementReplyCount(ctx context.Context, id string) (int, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	count, err := s.repo.IncrementReplyCount(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("increment reply count: %w", err)
	}
	return count, nil
}

// AgentConfig returns the stored configuration for the negotiation, or the defaults.
func (s *NegotiationService) AgentConfig(ctx context.Context, negotiationID string) (domain.AgentConfig, error) {
	cfg, err := s.configs.GetAgentConfig(ctx, negotiationID)
	if errors.Is(err, ErrNotFound) {
		return DefaultAgentConfig(negotiationID, s.policy.AgentDefaults()), nil
	}
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("agent config load: %w", err)
	}
	return *cfg, nil
}

// Now returns the service clock.
func (s *NegotiationService) Now() time.Time { return s.now() }

// Logger returns the service logger.
func (s *NegotiationService) Logger() *log.Logger { return s.logger }

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
