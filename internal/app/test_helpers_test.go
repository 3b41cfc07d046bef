package app

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/policy"
	"github.com/loadline/negotiator/internal/queue/memqueue"
)

// memStore implements the repository ports in memory. It hands out copies so
// callers cannot mutate stored state outside Save.
type memStore struct {
	mu            sync.Mutex
	negotiations  map[string]*domain.Negotiation
	configs       map[string]domain.AgentConfig
	notifications []domain.Notification
	saveErr       error
	conflicts     int // Save reports ErrConflict this many times before succeeding
}

func newMemStore() *memStore {
	return &memStore{
		negotiations: make(map[string]*domain.Negotiation),
		configs:      make(map[string]domain.AgentConfig),
	}
}

func cloneNegotiation(n *domain.Negotiation) *domain.Negotiation {
	cp := *n
	cp.Messages = append([]domain.Message{}, n.Messages...)
	cp.CounterOffers = append([]domain.CounterOffer{}, n.CounterOffers...)
	cp.EmailCcRecipients = append([]string(nil), n.EmailCcRecipients...)
	if n.AgentTargetPricePerKm != nil {
		v := *n.AgentTargetPricePerKm
		cp.AgentTargetPricePerKm = &v
	}
	if n.CurrentPrice != nil {
		v := *n.CurrentPrice
		cp.CurrentPrice = &v
	}
	return &cp
}

func (m *memStore) Create(_ context.Context, n *domain.Negotiation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negotiations[n.ID] = cloneNegotiation(n)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.negotiations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNegotiation(n), nil
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]*domain.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Negotiation
	for _, n := range m.negotiations {
		if n.UserID == userID {
			out = append(out, cloneNegotiation(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Save(_ context.Context, n *domain.Negotiation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	if _, ok := m.negotiations[n.ID]; !ok {
		return ErrNotFound
	}
	m.negotiations[n.ID] = cloneNegotiation(n)
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.negotiations, id)
	return nil
}

func (m *memStore) IncrementReplyCount(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.negotiations[id]
	if !ok {
		return 0, ErrNotFound
	}
	n.AgentReplyCount++
	return n.AgentReplyCount, nil
}

func (m *memStore) GetAgentConfig(_ context.Context, id string) (*domain.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) SaveAgentConfig(_ context.Context, c *domain.AgentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.NegotiationID] = *c
	return nil
}

func (m *memStore) DeleteAgentConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return ErrNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *memStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) notificationsFor(negotiationID string) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.SourceID == negotiationID {
			out = append(out, n)
		}
	}
	return out
}

// testPolicy satisfies the Policy port.
type testPolicy struct {
	defaults    policy.AgentDefaults
	signingKey  string
	replyDomain string
	enforce     bool
	signalPath  string
}

func newTestPolicy() *testPolicy {
	return &testPolicy{
		defaults:    policy.DefaultAgentDefaults(),
		signingKey:  "test-key",
		replyDomain: "mail.example.com",
	}
}

func (p *testPolicy) AgentDefaults() policy.AgentDefaults { return p.defaults }
func (p *testPolicy) WebhookSigningKey() string           { return p.signingKey }
func (p *testPolicy) ReplyDomain() string                 { return p.replyDomain }
func (p *testPolicy) FreshnessWindow() time.Duration      { return 5 * time.Minute }
func (p *testPolicy) EnforceFreshness() bool              { return p.enforce }
func (p *testPolicy) SignalFilePath() string              { return p.signalPath }
func (p *testPolicy) Mail() policy.MailConfig {
	return policy.MailConfig{FromAddress: "agent@example.com"}
}

// fakeCompletion returns canned answers in order; the last one repeats.
type fakeCompletion struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (f *fakeCompletion) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func (f *fakeCompletion) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []OutboundEmail
	err  error
	// rewriteID, when set, is reported as the Message-ID the provider sent with.
	rewriteID string
}

func (f *fakeMailer) Send(_ context.Context, msg OutboundEmail) (SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SendReceipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	receipt := SendReceipt{ProviderMessageID: "gm-" + msg.MessageID, MessageID: msg.MessageID, ThreadID: "thread-1"}
	if f.rewriteID != "" {
		receipt.MessageID = f.rewriteID
	}
	return receipt, nil
}

// flakyScheduler fails the next failRuns agent runs and failEmails emails, then
// delegates to the real scheduler.
type flakyScheduler struct {
	TaskScheduler
	mu         sync.Mutex
	failRuns   int
	failEmails int
	emails     []string
}

var errQueueDown = errors.New("queue unavailable")

func (f *flakyScheduler) ScheduleAgentRun(ctx context.Context, negotiationID, reference, afterMessageID string) error {
	f.mu.Lock()
	if f.failRuns > 0 {
		f.failRuns--
		f.mu.Unlock()
		return errQueueDown
	}
	f.mu.Unlock()
	return f.TaskScheduler.ScheduleAgentRun(ctx, negotiationID, reference, afterMessageID)
}

func (f *flakyScheduler) ScheduleEmail(ctx context.Context, negotiationID, messageID string) error {
	f.mu.Lock()
	f.emails = append(f.emails, messageID)
	if f.failEmails > 0 {
		f.failEmails--
		f.mu.Unlock()
		return errQueueDown
	}
	f.mu.Unlock()
	return f.TaskScheduler.ScheduleEmail(ctx, negotiationID, messageID)
}

// testEnv wires the application layer over in-memory adapters.
type testEnv struct {
	store      *memStore
	queue      *memqueue.Queue
	policy     *testPolicy
	svc        *NegotiationService
	scheduler  *Scheduler
	completion *fakeCompletion
	mailer     *fakeMailer
	orch       *Orchestrator
	correlator *Correlator
	outbound   *OutboundSender
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	e := &testEnv{
		store:      newMemStore(),
		queue:      memqueue.New(),
		policy:     newTestPolicy(),
		completion: &fakeCompletion{},
		mailer:     &fakeMailer{},
	}
	e.svc = NewNegotiationService(e.store, e.store, e.store, e.policy, logger)
	e.scheduler = NewScheduler(e.queue, "", logger)
	e.svc.SetScheduler(e.scheduler)
	e.orch = NewOrchestrator(e.svc, e.completion, e.scheduler, logger)
	e.correlator = NewCorrelator(e.svc, NewWebhookVerifier(e.policy, logger), e.scheduler, e.policy, logger)
	e.outbound = NewOutboundSender(e.svc, e.mailer, e.policy, logger)
	e.dispatcher = NewDispatcher(e.queue, logger, WithMaxAttempts(2))
	e.dispatcher.Handle(domain.TaskRunAgent, e.orch.HandleTask)
	e.dispatcher.Handle(domain.TaskSendEmail, e.outbound.HandleTask)
	return e
}

// seed creates a negotiation for user u1 and returns it.
func (e *testEnv) seed(t *testing.T) *domain.Negotiation {
	t.Helper()
	n, err := e.svc.CreateNegotiation(context.Background(), "u1", CreateNegotiationInput{
		OfferID: "offer-1",
		InitialRequest: domain.InitialRequest{
			Origin:       "Berlin",
			Destination:  "Munich",
			Price:        "€1000",
			Distance:     "500 km",
			ContactEmail: "carrier@example.com",
		},
	})
	if err != nil {
		t.Fatalf("CreateNegotiation: %v", err)
	}
	return n
}

// activate turns the agent on directly in the store, without scheduling a run.
func (e *testEnv) activate(t *testing.T, id string, target float64) {
	t.Helper()
	err := e.svc.Run(context.Background(), id, func(n *domain.Negotiation) error {
		return n.ActivateAgent(target, time.Now())
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func (e *testEnv) get(t *testing.T, id string) *domain.Negotiation {
	t.Helper()
	n, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return n
}

func (e *testEnv) tasks(kind domain.TaskKind) []domain.Task {
	var out []domain.Task
	for _, t := range e.queue.Pending() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

const sendReply = `{"action":"send_message","messageContent":"Could you do €900?","reason":"opening"}`
