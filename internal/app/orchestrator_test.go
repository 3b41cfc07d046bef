package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

func TestOrchestratorSendsReply(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	e.completion.replies = []string{sendReply}

	res, err := e.orch.Run(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Action != ActionSendMessage {
		t.Fatalf("result = %+v, want completed send_message", res)
	}

	got := e.get(t, n.ID)
	if got.AgentReplyCount != 1 {
		t.Errorf("AgentReplyCount = %d, want 1", got.AgentReplyCount)
	}
	if len(got.Messages) != 1 || got.Messages[0].Sender != domain.SenderAgent || got.Messages[0].Content != "Could you do €900?" {
		t.Fatalf("Messages = %+v", got.Messages)
	}
	if got.Messages[0].ID != res.MessageID {
		t.Errorf("result MessageID %q does not match appended message %q", res.MessageID, got.Messages[0].ID)
	}

	emails := e.tasks(domain.TaskSendEmail)
	if len(emails) != 1 {
		t.Fatalf("send_email tasks = %d, want 1", len(emails))
	}
	wantKey := fmt.Sprintf("email:%s:%s", n.ID, res.MessageID)
	if emails[0].IdempotencyKey != wantKey || emails[0].MessageID != res.MessageID {
		t.Errorf("email task = %+v, want key %s", emails[0], wantKey)
	}
}

func TestOrchestratorNotFound(t *testing.T) {
	e := newTestEnv(t)
	res, err := e.orch.Run(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("Outcome = %q, want not_found", res.Outcome)
	}
	if e.completion.calls() != 0 {
		t.Error("completion must not be called for a missing negotiation")
	}
}

func TestOrchestratorSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, e *testEnv, n *domain.Negotiation)
	}{
		{
			name:  "agent inactive",
			setup: func(t *testing.T, e *testEnv, n *domain.Negotiation) {},
		},
		{
			name: "agent paused",
			setup: func(t *testing.T, e *testEnv, n *domain.Negotiation) {
				e.activate(t, n.ID, 1.8)
				_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
					n.FlagAgent(domain.AgentNeedsReview, "check", domain.TriggerMaxReplies, time.Now())
					return nil
				})
			},
		},
		{
			name: "negotiation closed",
			setup: func(t *testing.T, e *testEnv, n *domain.Negotiation) {
				e.activate(t, n.ID, 1.8)
				_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
					n.Status = domain.StatusRejected
					return nil
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			n := e.seed(t)
			tt.setup(t, e, n)
			e.completion.replies = []string{sendReply}

			res, err := e.orch.Run(context.Background(), n.ID)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Outcome != OutcomeSkipped {
				t.Errorf("Outcome = %q, want skipped", res.Outcome)
			}
			if e.completion.calls() != 0 {
				t.Error("completion must not be called when the guard fails")
			}
			if got := e.get(t, n.ID); got.AgentReplyCount != 0 || len(got.Messages) != 0 {
				t.Errorf("skipped run changed state: count=%d messages=%d", got.AgentReplyCount, len(got.Messages))
			}
		})
	}
}

func TestOrchestratorMaxRepliesPauses(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
		n.AgentReplyCount = 3
		return nil
	})
	e.completion.replies = []string{sendReply}

	res, err := e.orch.Run(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Action != ActionNeedsReview || res.Trigger != domain.TriggerMaxReplies {
		t.Fatalf("result = %+v, want needs_review max_replies", res)
	}

	got := e.get(t, n.ID)
	if got.AgentState != domain.AgentNeedsReview || got.AgentMessage != "Maximum automatic replies (3) reached." {
		t.Errorf("agent state = %q/%q", got.AgentState, got.AgentMessage)
	}
	if got.AgentReplyCount != 3 || len(got.Messages) != 0 {
		t.Errorf("paused run must not send: count=%d messages=%d", got.AgentReplyCount, len(got.Messages))
	}
	if len(e.tasks(domain.TaskSendEmail)) != 0 {
		t.Error("no email should be queued")
	}

	notes := e.store.notificationsFor(n.ID)
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	if notes[0].Type != domain.NotificationNeedsReview || notes[0].Title != "Agent needs review: Berlin → Munich (max replies reached)" || notes[0].UserID != "u1" {
		t.Errorf("notification = %+v", notes[0])
	}
}

func TestOrchestratorRoundCheckpoint(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
		for i := 0; i < 9; i++ {
			sender := domain.EmailSender("carrier@example.com")
			if i%2 == 0 {
				sender = domain.SenderUser
			}
			n.AppendMessage(domain.Message{ID: fmt.Sprintf("m%d", i), Sender: sender, Content: "...", Timestamp: time.Now()})
		}
		return nil
	})
	e.completion.replies = []string{sendReply}

	res, err := e.orch.Run(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Trigger != domain.TriggerRoundCheckpoint {
		t.Fatalf("Trigger = %q, want round_checkpoint", res.Trigger)
	}
	got := e.get(t, n.ID)
	if got.AgentState != domain.AgentNeedsReview || got.AgentMessage != "Reached notification point after 5 rounds." {
		t.Errorf("agent state = %q/%q", got.AgentState, got.AgentMessage)
	}
}

func TestOrchestratorCompletionFailure(t *testing.T) {
	for name, setup := range map[string]func(f *fakeCompletion){
		"provider error": func(f *fakeCompletion) { f.err = errors.New("rate limited") },
		"garbage output": func(f *fakeCompletion) { f.replies = []string{"no json here"} },
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t)
			n := e.seed(t)
			e.activate(t, n.ID, 1.8)
			setup(e.completion)

			res, err := e.orch.Run(context.Background(), n.ID)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Action != ActionError || res.Trigger != domain.TriggerCompletion {
				t.Fatalf("result = %+v, want error completion_failure", res)
			}
			got := e.get(t, n.ID)
			if got.AgentState != domain.AgentError || got.AgentMessage == "" {
				t.Errorf("agent state = %q/%q", got.AgentState, got.AgentMessage)
			}
			notes := e.store.notificationsFor(n.ID)
			if len(notes) != 1 || notes[0].Type != domain.NotificationError {
				t.Errorf("notifications = %+v, want one agent_error", notes)
			}
		})
	}
}

func TestOrchestratorPauseIsNotRepeated(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	e.completion.err = errors.New("down")

	if _, err := e.orch.Run(context.Background(), n.ID); err != nil {
		t.Fatal(err)
	}
	res, err := e.orch.Run(context.Background(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("second run Outcome = %q, want skipped while paused", res.Outcome)
	}
	if got := len(e.store.notificationsFor(n.ID)); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestOrchestratorRunAfterAlreadyAnswered(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
		n.AppendMessage(domain.Message{ID: "in-1", Sender: domain.EmailSender("c@x.com"), Content: "€1000 is final", Timestamp: time.Now()})
		n.AppendMessage(domain.Message{ID: "out-1", Sender: domain.SenderAgent, Content: "€950?", Timestamp: time.Now()})
		return nil
	})
	e.completion.replies = []string{sendReply}

	res, err := e.orch.RunAfter(context.Background(), n.ID, "in-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("Outcome = %q, want skipped for an answered message", res.Outcome)
	}
	if e.completion.calls() != 0 {
		t.Error("completion must not be called for a redelivered run")
	}
}

func TestServiceRunSerializesWrites(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
				n.AppendMessage(domain.Message{ID: fmt.Sprintf("m%d", i), Sender: domain.SenderUser, Content: "x", Timestamp: time.Now()})
				return nil
			})
			_, _ = e.svc.IncrementReplyCount(context.Background(), n.ID)
		}(i)
	}
	wg.Wait()

	got := e.get(t, n.ID)
	if got.MessageCount != 20 || len(got.Messages) != 20 {
		t.Errorf("messages = %d, want 20 (lost update)", len(got.Messages))
	}
	if got.AgentReplyCount != 20 {
		t.Errorf("AgentReplyCount = %d, want 20", got.AgentReplyCount)
	}
}

func TestOrchestratorRetryDoesNotRegenerateReply(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	e.completion.replies = []string{sendReply}
	flaky := &flakyScheduler{TaskScheduler: e.scheduler, failEmails: 1}
	orch := NewOrchestrator(e.svc, e.completion, flaky, log.New(io.Discard, "", 0))
	task := domain.Task{ID: "task-1", Kind: domain.TaskRunAgent, NegotiationID: n.ID}

	if err := orch.HandleTask(context.Background(), task); !errors.Is(err, errQueueDown) {
		t.Fatalf("first attempt err = %v, want queue failure", err)
	}
	if err := orch.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got := e.get(t, n.ID)
	if len(got.Messages) != 1 || got.Messages[0].ID != "task-1" {
		t.Fatalf("Messages = %+v, want the single reply stored under the task id", got.Messages)
	}
	if got.AgentReplyCount != 1 {
		t.Errorf("AgentReplyCount = %d, want 1", got.AgentReplyCount)
	}
	if e.completion.calls() != 1 {
		t.Errorf("completion calls = %d, want 1", e.completion.calls())
	}
	if len(flaky.emails) != 2 || flaky.emails[0] != "task-1" || flaky.emails[1] != "task-1" {
		t.Errorf("scheduled emails = %v", flaky.emails)
	}
	if emails := e.tasks(domain.TaskSendEmail); len(emails) != 1 || emails[0].MessageID != "task-1" {
		t.Errorf("send_email tasks = %+v", emails)
	}
}

func TestServiceRunRetriesOnConflict(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.store.conflicts = 1

	calls := 0
	err := e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
		calls++
		n.AppendMessage(domain.Message{ID: "m1", Sender: domain.SenderUser, Content: "x", Timestamp: time.Now()})
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2", calls)
	}
	if got := e.get(t, n.ID); len(got.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(got.Messages))
	}
}

func TestServiceRunGivesUpAfterRepeatedConflicts(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	e.store.conflicts = 100

	err := e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error { return nil })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if e.store.conflicts != 100-maxSaveAttempts {
		t.Errorf("save attempts = %d, want %d", 100-e.store.conflicts, maxSaveAttempts)
	}
}
