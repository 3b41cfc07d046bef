package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

func TestCreateNegotiationValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.svc.CreateNegotiation(ctx, "", CreateNegotiationInput{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("empty user = %v, want ErrNotAuthenticated", err)
	}
	_, err := e.svc.CreateNegotiation(ctx, "u1", CreateNegotiationInput{InitialRequest: domain.InitialRequest{Origin: "Berlin"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing destination = %v, want ErrInvalidInput", err)
	}
}

func TestOwnershipChecks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := e.seed(t)

	checks := map[string]func(userID string) error{
		"get":    func(u string) error { _, err := e.svc.GetNegotiation(ctx, u, n.ID); return err },
		"accept": func(u string) error { _, err := e.svc.AcceptNegotiation(ctx, u, n.ID); return err },
		"reject": func(u string) error { _, err := e.svc.RejectNegotiation(ctx, u, n.ID); return err },
		"activate": func(u string) error {
			_, err := e.svc.ActivateAgent(ctx, u, n.ID, 1.8, AgentSettings{})
			return err
		},
		"resume": func(u string) error {
			_, err := e.svc.ResumeAgent(ctx, u, n.ID, ResumeTakeOver, BypassFlags{})
			return err
		},
		"message": func(u string) error { _, err := e.svc.SendUserMessage(ctx, u, n.ID, "hi", false); return err },
		"config":  func(u string) error { _, err := e.svc.GetAgentConfig(ctx, u, n.ID); return err },
		"delete":  func(u string) error { return e.svc.DeleteNegotiation(ctx, u, n.ID) },
	}
	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			if err := call(""); !errors.Is(err, ErrNotAuthenticated) {
				t.Errorf("no user = %v, want ErrNotAuthenticated", err)
			}
			if err := call("intruder"); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("other user = %v, want ErrUnauthorized", err)
			}
		})
	}
	if got := e.get(t, n.ID); got.Status != domain.StatusPending || got.IsAgentActive || len(got.Messages) != 0 {
		t.Errorf("unauthorized calls changed state: %+v", got)
	}
}

func TestListNegotiationsOnlyOwn(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seed(t)
	if _, err := e.svc.CreateNegotiation(ctx, "u2", CreateNegotiationInput{InitialRequest: domain.InitialRequest{Origin: "A", Destination: "B"}}); err != nil {
		t.Fatal(err)
	}
	list, err := e.svc.ListNegotiations(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UserID != "u1" {
		t.Errorf("ListNegotiations(u1) = %d items", len(list))
	}
}

func TestActivateAgentStoresSettingsAndSchedules(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := e.seed(t)

	if _, err := e.svc.ActivateAgent(ctx, "u1", n.ID, 0, AgentSettings{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero target = %v, want ErrInvalidInput", err)
	}
	if got := len(e.tasks(domain.TaskRunAgent)); got != 0 {
		t.Fatalf("failed activation queued %d runs", got)
	}

	style := domain.StyleConservative
	replies := 10
	got, err := e.svc.ActivateAgent(ctx, "u1", n.ID, 2.1, AgentSettings{Style: &style, MaxAutoReplies: &replies})
	if err != nil {
		t.Fatalf("ActivateAgent: %v", err)
	}
	if !got.IsAgentActive || *got.AgentTargetPricePerKm != 2.1 {
		t.Errorf("negotiation = %+v", got)
	}
	cfg, err := e.svc.GetAgentConfig(ctx, "u1", n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Style != domain.StyleConservative || cfg.MaxAutoReplies != 10 || cfg.NotifyAfterRounds != 5 {
		t.Errorf("config = %+v", cfg)
	}
	if got := len(e.tasks(domain.TaskRunAgent)); got != 1 {
		t.Errorf("run tasks = %d, want 1", got)
	}
}

func pausedNegotiation(t *testing.T, e *testEnv) *domain.Negotiation {
	t.Helper()
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)
	_ = e.svc.Run(context.Background(), n.ID, func(n *domain.Negotiation) error {
		n.AgentReplyCount = 3
		n.FlagAgent(domain.AgentNeedsReview, "Counterparty changed the price.", domain.TriggerPriceChange, time.Now())
		return nil
	})
	return n
}

func TestResumeContinue(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := pausedNegotiation(t, e)

	got, err := e.svc.ResumeAgent(ctx, "u1", n.ID, ResumeContinue, BypassFlags{PriceChange: true})
	if err != nil {
		t.Fatalf("ResumeAgent: %v", err)
	}
	if got.AgentState != domain.AgentRunning || got.AgentMessage != "" || got.AgentTrigger != domain.TriggerNone {
		t.Errorf("agent state not cleared: %q/%q/%q", got.AgentState, got.AgentMessage, got.AgentTrigger)
	}
	if got.AgentReplyCount != 0 {
		t.Errorf("AgentReplyCount = %d, want reset to 0", got.AgentReplyCount)
	}
	cfg, _ := e.svc.AgentConfig(ctx, n.ID)
	if !cfg.BypassPriceChange || cfg.BypassNewTerms {
		t.Errorf("bypass flags = %+v", cfg)
	}
	if got := len(e.tasks(domain.TaskRunAgent)); got != 1 {
		t.Errorf("run tasks = %d, want 1", got)
	}

	// The stored bypass lets the next run send despite the same signal.
	e.completion.replies = []string{`{"action":"send_message","messageContent":"Deal at €950?","signals":{"priceChange":true}}`}
	e.dispatcher.DrainOnce(ctx)
	if got := e.get(t, n.ID); got.AgentState != domain.AgentRunning || got.AgentReplyCount != 1 {
		t.Errorf("after resumed run state=%q count=%d", got.AgentState, got.AgentReplyCount)
	}
}

func TestResumeTakeOver(t *testing.T) {
	e := newTestEnv(t)
	n := pausedNegotiation(t, e)

	got, err := e.svc.ResumeAgent(context.Background(), "u1", n.ID, ResumeTakeOver, BypassFlags{})
	if err != nil {
		t.Fatalf("ResumeAgent: %v", err)
	}
	if got.IsAgentActive || got.AgentTargetPricePerKm != nil {
		t.Error("take over must deactivate the agent")
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Sender != domain.SenderSystem || last.Content != TakeOverMessage {
		t.Errorf("last message = %+v", last)
	}
	if got := len(e.tasks(domain.TaskRunAgent)); got != 0 {
		t.Errorf("take over queued %d runs", got)
	}
}

func TestResumeRequiresActiveAgent(t *testing.T) {
	e := newTestEnv(t)
	n := e.seed(t)
	for _, a := range []ResumeAction{ResumeContinue, ResumeTakeOver} {
		if _, err := e.svc.ResumeAgent(context.Background(), "u1", n.ID, a, BypassFlags{}); !errors.Is(err, ErrAgentNotActive) {
			t.Errorf("ResumeAgent(%s) = %v, want ErrAgentNotActive", a, err)
		}
	}
	if _, err := e.svc.ResumeAgent(context.Background(), "u1", n.ID, "pause", BypassFlags{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown action = %v, want ErrInvalidInput", err)
	}
}

func TestAcceptFreezesPriceAndStopsAgent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := e.seed(t)
	e.activate(t, n.ID, 1.8)

	if _, err := e.svc.AddCounterOffer(ctx, "u1", n.ID, 950, domain.ProposedByCarrier, "final"); err != nil {
		t.Fatal(err)
	}
	got, err := e.svc.AcceptNegotiation(ctx, "u1", n.ID)
	if err != nil {
		t.Fatalf("AcceptNegotiation: %v", err)
	}
	if got.Status != domain.StatusAccepted || got.FinalPrice != "€950.00" {
		t.Errorf("Status=%q FinalPrice=%q", got.Status, got.FinalPrice)
	}
	if got.IsAgentActive {
		t.Error("accepting must deactivate the agent")
	}
	if _, err := e.svc.RejectNegotiation(ctx, "u1", n.ID); !errors.Is(err, ErrNegotiationClosed) {
		t.Errorf("reject after accept = %v, want ErrNegotiationClosed", err)
	}
	if _, err := e.svc.AddCounterOffer(ctx, "u1", n.ID, 900, "", ""); !errors.Is(err, ErrNegotiationClosed) {
		t.Errorf("offer after accept = %v, want ErrNegotiationClosed", err)
	}
}

func TestCounterOffers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := e.seed(t)

	if _, err := e.svc.AddCounterOffer(ctx, "u1", n.ID, -5, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative price = %v, want ErrInvalidInput", err)
	}
	if _, err := e.svc.AddCounterOffer(ctx, "u1", n.ID, 900, "broker", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown proposer = %v, want ErrInvalidInput", err)
	}
	offer, err := e.svc.AddCounterOffer(ctx, "u1", n.ID, 900, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if offer.ProposedBy != domain.ProposedByUser || offer.Status != domain.OfferPending {
		t.Errorf("offer = %+v", offer)
	}
	if got := e.get(t, n.ID); got.CurrentPrice == nil || *got.CurrentPrice != 900 {
		t.Errorf("CurrentPrice = %v, want 900", got.CurrentPrice)
	}

	if _, err := e.svc.UpdateCounterOfferStatus(ctx, "u1", n.ID, "missing", domain.OfferRejected); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown offer = %v, want ErrNotFound", err)
	}
	got, err := e.svc.UpdateCounterOfferStatus(ctx, "u1", n.ID, offer.ID, domain.OfferAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusAccepted || got.FinalPrice != "€900.00" {
		t.Errorf("accepting an offer = %q/%q", got.Status, got.FinalPrice)
	}
}

func TestDeleteNegotiation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	n := e.seed(t)
	if _, err := e.svc.UpdateAgentSettings(ctx, "u1", n.ID, AgentSettings{}); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.DeleteNegotiation(ctx, "u1", n.ID); err != nil {
		t.Fatalf("DeleteNegotiation: %v", err)
	}
	if _, err := e.svc.GetNegotiation(ctx, "u1", n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if _, err := e.store.GetAgentConfig(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Error("agent config should be deleted with the negotiation")
	}
}

func TestNotificationsReadFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	note, err := e.svc.Notify(ctx, NotificationInput{UserID: "u1", Type: domain.NotificationInfo, Title: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.ListNotifications(ctx, "", false); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("no user = %v", err)
	}
	if err := e.svc.MarkNotificationRead(ctx, "u2", note.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user's notification = %v, want ErrNotFound", err)
	}
	if err := e.svc.MarkNotificationRead(ctx, "u1", note.ID); err != nil {
		t.Fatal(err)
	}
	unread, _ := e.svc.ListNotifications(ctx, "u1", true)
	all, _ := e.svc.ListNotifications(ctx, "u1", false)
	if len(unread) != 0 || len(all) != 1 || !all[0].Read {
		t.Errorf("unread=%d all=%+v", len(unread), all)
	}
}
