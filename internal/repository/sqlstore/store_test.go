package sqlstore

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/policy"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("sqlite", filepath.Join(t.TempDir(), "negotiator.sqlite"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// stores returns the backends under test. MySQL runs only when NEGOTIATOR_TEST_MYSQL_DSN is set.
func stores(t *testing.T) map[string]func(t *testing.T) *Store {
	out := map[string]func(t *testing.T) *Store{"sqlite": newSQLiteStore}
	if dsn := os.Getenv("NEGOTIATOR_TEST_MYSQL_DSN"); dsn != "" {
		out["mysql"] = func(t *testing.T) *Store {
			store, err := New("mysql", dsn)
			if err != nil {
				t.Fatalf("New mysql: %v", err)
			}
			for _, table := range []string{"negotiations", "negotiation_messages", "counter_offers", "agent_configs", "notifications", "tasks"} {
				_, _ = store.db.Exec("DELETE FROM " + table)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		}
	}
	return out
}

func sampleNegotiation(id, userID string, created time.Time) *domain.Negotiation {
	n := domain.NewNegotiation(id, "offer-"+id, userID, domain.InitialRequest{
		Origin:       "Berlin",
		Destination:  "Munich",
		Price:        "€1000",
		Distance:     "500 km",
		ContactEmail: "carrier@example.com",
	}, created)
	n.EmailCcRecipients = []string{"ops@example.com"}
	return n
}

func TestNegotiationRoundtrip(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			now := time.Now().Truncate(time.Millisecond)

			n := sampleNegotiation("n1", "u1", now)
			if err := n.ActivateAgent(1.8, now); err != nil {
				t.Fatal(err)
			}
			n.AppendMessage(domain.Message{ID: "m1", Sender: domain.SenderAgent, Content: "€900?", Timestamp: now})
			_ = n.AddCounterOffer(domain.CounterOffer{ID: "c1", Price: 950, ProposedBy: domain.ProposedByCarrier, Timestamp: now})
			if err := store.Create(ctx, n); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := store.Get(ctx, "n1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.InitialRequest.Route() != "Berlin → Munich" || got.UserID != "u1" || got.Status != domain.StatusPending {
				t.Errorf("negotiation = %+v", got)
			}
			if !got.IsAgentActive || got.AgentTargetPricePerKm == nil || *got.AgentTargetPricePerKm != 1.8 {
				t.Errorf("agent fields = active:%v target:%v", got.IsAgentActive, got.AgentTargetPricePerKm)
			}
			if len(got.Messages) != 1 || got.Messages[0].Content != "€900?" || !got.Messages[0].Timestamp.Equal(now) {
				t.Errorf("Messages = %+v", got.Messages)
			}
			if len(got.CounterOffers) != 1 || got.CounterOffers[0].Status != domain.OfferPending {
				t.Errorf("CounterOffers = %+v", got.CounterOffers)
			}
			if got.CurrentPrice == nil || *got.CurrentPrice != 950 || got.MessageCount != 1 {
				t.Errorf("projections = price:%v count:%d", got.CurrentPrice, got.MessageCount)
			}
			if len(got.EmailCcRecipients) != 1 || got.EmailCcRecipients[0] != "ops@example.com" {
				t.Errorf("EmailCcRecipients = %v", got.EmailCcRecipients)
			}
		})
	}
}

func TestNegotiationSaveAppendsAndUpdates(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			now := time.Now()

			n := sampleNegotiation("n1", "u1", now)
			n.AppendMessage(domain.Message{ID: "m1", Sender: domain.SenderUser, Content: "hello", Timestamp: now})
			if err := store.Create(ctx, n); err != nil {
				t.Fatal(err)
			}

			n.AppendMessage(domain.Message{ID: "m2", Sender: domain.EmailSender("c@x.com"), Content: "€980", Timestamp: now.Add(time.Second), EmailMessageID: "abc@x"})
			n.RecordOutboundEmail("m1", "m1@mail.example.com", "thread-1", now)
			n.FlagAgent(domain.AgentNeedsReview, "Counterparty changed the price.", domain.TriggerPriceChange, now)
			if err := store.Save(ctx, n); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := store.Get(ctx, "n1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 2 || got.Messages[0].ID != "m1" || got.Messages[1].ID != "m2" {
				t.Fatalf("Messages = %+v", got.Messages)
			}
			if got.Messages[0].EmailMessageID != "m1@mail.example.com" || !got.HasEmailMessage("abc@x") {
				t.Errorf("email ids not persisted: %+v", got.Messages)
			}
			if got.EmailThreadID != "thread-1" || got.LastEmailMessageID != "m1@mail.example.com" {
				t.Errorf("thread = %q/%q", got.EmailThreadID, got.LastEmailMessageID)
			}
			if got.AgentState != domain.AgentNeedsReview || got.AgentTrigger != domain.TriggerPriceChange {
				t.Errorf("agent = %q/%q", got.AgentState, got.AgentTrigger)
			}

			if err := store.Save(ctx, sampleNegotiation("missing", "u1", now)); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("Save unknown = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			now := time.Now()
			if err := store.Create(ctx, sampleNegotiation("n1", "u1", now)); err != nil {
				t.Fatal(err)
			}

			first, _ := store.Get(ctx, "n1")
			stale, _ := store.Get(ctx, "n1")
			first.AppendMessage(domain.Message{ID: "m1", Sender: domain.SenderUser, Content: "first", Timestamp: now})
			if err := store.Save(ctx, first); err != nil {
				t.Fatalf("Save: %v", err)
			}
			stale.AppendMessage(domain.Message{ID: "m2", Sender: domain.SenderUser, Content: "stale", Timestamp: now})
			if err := store.Save(ctx, stale); !errors.Is(err, app.ErrConflict) {
				t.Fatalf("stale Save = %v, want ErrConflict", err)
			}

			if _, err := store.IncrementReplyCount(ctx, "n1"); err != nil {
				t.Fatal(err)
			}
			if err := store.Save(ctx, first); !errors.Is(err, app.ErrConflict) {
				t.Errorf("Save after IncrementReplyCount = %v, want ErrConflict", err)
			}

			got, err := store.Get(ctx, "n1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 1 || got.Messages[0].ID != "m1" {
				t.Errorf("Messages = %+v, want only the first writer's message", got.Messages)
			}
		})
	}
}

// Two services over separate connections to one file stand in for two processes.
func TestRunRetriesAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.sqlite")
	open := func() *app.NegotiationService {
		store, err := New("sqlite", path)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		pol := policy.New(&policy.Config{AgentDefaults: policy.DefaultAgentDefaults()})
		return app.NewNegotiationService(store, store, store, pol, log.New(io.Discard, "", 0))
	}
	ctx := context.Background()
	user, worker := open(), open()

	n, err := user.CreateNegotiation(ctx, "u1", app.CreateNegotiationInput{
		OfferID: "offer-1",
		InitialRequest: domain.InitialRequest{
			Origin: "Berlin", Destination: "Munich", Price: "€1000", Distance: "500 km",
			ContactEmail: "carrier@example.com",
		},
	})
	if err != nil {
		t.Fatalf("CreateNegotiation: %v", err)
	}

	attempts := 0
	err = worker.Run(ctx, n.ID, func(cur *domain.Negotiation) error {
		attempts++
		if attempts == 1 {
			if _, err := user.AcceptNegotiation(ctx, "u1", n.ID); err != nil {
				t.Fatalf("AcceptNegotiation: %v", err)
			}
		}
		cur.AppendMessage(domain.Message{ID: "m1", Sender: domain.EmailSender("carrier@example.com"), Content: "€1000 is fine", Timestamp: time.Now()})
		return nil
	})
	if err != nil {
		t.Fatalf("worker Run: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	got, err := user.GetNegotiation(ctx, "u1", n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusAccepted || got.FinalPrice == "" {
		t.Errorf("status = %q final = %q, accept was lost", got.Status, got.FinalPrice)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != "m1" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}

func TestNegotiationListDeleteAndReplyCount(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			base := time.Now()
			for i, id := range []string{"a", "b", "c"} {
				user := "u1"
				if id == "c" {
					user = "u2"
				}
				if err := store.Create(ctx, sampleNegotiation(id, user, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatal(err)
				}
			}

			list, err := store.ListByUser(ctx, "u1")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
				t.Errorf("ListByUser = %d items, want b then a", len(list))
			}

			for want := 1; want <= 3; want++ {
				got, err := store.IncrementReplyCount(ctx, "a")
				if err != nil || got != want {
					t.Errorf("IncrementReplyCount = %d, %v; want %d", got, err, want)
				}
			}
			if _, err := store.IncrementReplyCount(ctx, "zzz"); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("IncrementReplyCount unknown = %v, want ErrNotFound", err)
			}

			if err := store.Delete(ctx, "a"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Get(ctx, "a"); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("Get after Delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestAgentConfigRoundtrip(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if _, err := store.GetAgentConfig(ctx, "n1"); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("missing config = %v, want ErrNotFound", err)
			}
			cfg := domain.AgentConfig{
				NegotiationID:     "n1",
				Style:             domain.StyleAggressive,
				NotifyPriceChange: true,
				NotifyRefusal:     true,
				MaxAutoReplies:    domain.UnlimitedReplies,
				NotifyAfterRounds: 4,
				BypassPriceChange: true,
				UpdatedAt:         time.Now(),
			}
			if err := store.SaveAgentConfig(ctx, &cfg); err != nil {
				t.Fatal(err)
			}
			cfg.BypassNewTerms = true
			if err := store.SaveAgentConfig(ctx, &cfg); err != nil {
				t.Fatal(err)
			}

			got, err := store.GetAgentConfig(ctx, "n1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Style != domain.StyleAggressive || got.MaxAutoReplies != -1 || got.NotifyAfterRounds != 4 {
				t.Errorf("config = %+v", got)
			}
			if !got.NotifyPriceChange || got.NotifyNewTerms || !got.NotifyRefusal || !got.BypassPriceChange || !got.BypassNewTerms {
				t.Errorf("flags = %+v", got)
			}

			if err := store.DeleteAgentConfig(ctx, "n1"); err != nil {
				t.Fatal(err)
			}
			if err := store.DeleteAgentConfig(ctx, "n1"); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("second delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			base := time.Now()
			for i, id := range []string{"x1", "x2"} {
				err := store.CreateNotification(ctx, &domain.Notification{
					ID: id, UserID: "u1", Type: domain.NotificationNeedsReview, Title: "Agent needs review: A → B",
					SourceID: "n1", CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatal(err)
				}
			}

			if err := store.MarkNotificationRead(ctx, "u2", "x1"); !errors.Is(err, app.ErrNotFound) {
				t.Errorf("foreign mark = %v, want ErrNotFound", err)
			}
			if err := store.MarkNotificationRead(ctx, "u1", "x1"); err != nil {
				t.Fatal(err)
			}

			all, err := store.ListNotifications(ctx, "u1", false)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 || all[0].ID != "x2" || !all[1].Read {
				t.Errorf("all = %+v", all)
			}
			unread, _ := store.ListNotifications(ctx, "u1", true)
			if len(unread) != 1 || unread[0].ID != "x2" {
				t.Errorf("unread = %+v", unread)
			}
		})
	}
}

func TestTaskQueue(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			now := time.Now()

			task := domain.Task{ID: "t1", Kind: domain.TaskRunAgent, NegotiationID: "n1", IdempotencyKey: "run:n1:a", AvailableAt: now, CreatedAt: now}
			if ok, err := store.Enqueue(ctx, task); err != nil || !ok {
				t.Fatalf("Enqueue = %v, %v", ok, err)
			}
			task.ID = "t2"
			if ok, _ := store.Enqueue(ctx, task); ok {
				t.Error("duplicate idempotency key should be ignored")
			}

			leased, err := store.Lease(ctx, now, time.Minute)
			if err != nil || leased == nil {
				t.Fatalf("Lease = %v, %v", leased, err)
			}
			if leased.ID != "t1" || leased.Attempts != 1 || leased.Kind != domain.TaskRunAgent {
				t.Errorf("leased = %+v", leased)
			}
			if again, _ := store.Lease(ctx, now, time.Minute); again != nil {
				t.Error("a leased task must not be handed out twice")
			}

			if err := store.Nack(ctx, "t1", now.Add(10*time.Second), "boom"); err != nil {
				t.Fatal(err)
			}
			if early, _ := store.Lease(ctx, now.Add(5*time.Second), time.Minute); early != nil {
				t.Error("nacked task leased before retry time")
			}
			retry, _ := store.Lease(ctx, now.Add(11*time.Second), time.Minute)
			if retry == nil || retry.Attempts != 2 || retry.LastError != "boom" {
				t.Fatalf("retry = %+v", retry)
			}

			if n, _ := store.RequeueExpired(ctx, now.Add(30*time.Second)); n != 0 {
				t.Errorf("live lease requeued (%d)", n)
			}
			if n, _ := store.RequeueExpired(ctx, now.Add(2*time.Minute)); n != 1 {
				t.Errorf("RequeueExpired = %d, want 1", n)
			}
			pending, _ := store.PendingTasks(ctx)
			if len(pending) != 1 || !pending[0].LeasedUntil.IsZero() {
				t.Errorf("pending = %+v", pending)
			}

			if err := store.Ack(ctx, "t1"); err != nil {
				t.Fatal(err)
			}
			if got, _ := store.Lease(ctx, now.Add(time.Hour), time.Minute); got != nil {
				t.Error("acked task leased again")
			}
			if ok, _ := store.Enqueue(ctx, task); ok {
				t.Error("key of an acked task should still be remembered")
			}
		})
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.sqlite")
	store, err := New("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), sampleNegotiation("n1", "u1", time.Now())); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := New("", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "n1"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestStoreClose(t *testing.T) {
	store, err := New("sqlite", filepath.Join(t.TempDir(), "closed.sqlite"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if store.db != nil {
		t.Error("Close should set db to nil")
	}
	// Second Close is no-op
	if err := store.Close(); err != nil {
		t.Errorf("Second Close: %v", err)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New("postgres", "x"); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := New("mysql", "not a dsn at all ::"); err == nil {
		t.Error("expected error for malformed mysql dsn")
	}
}
