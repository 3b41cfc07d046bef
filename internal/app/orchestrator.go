package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/loadline/negotiator/internal/domain"
)

// Completion produces the model's answer for a prompt. Implemented by internal/llm.
type Completion interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RunOutcome classifies how an orchestrator run ended.
type RunOutcome string

const (
	// OutcomeCompleted means the rule engine decided and its side effects were applied.
	OutcomeCompleted RunOutcome = "completed"
	// OutcomeNotFound means the negotiation no longer exists.
	OutcomeNotFound RunOutcome = "not_found"
	// OutcomeSkipped means a guard failed (agent inactive or paused, no target, closed deal,
	// or the triggering message was already answered).
	OutcomeSkipped RunOutcome = "skipped"
)

// RunResult reports one orchestrator run.
type RunResult struct {
	Outcome   RunOutcome
	Action    Action
	Reason    string
	Trigger   domain.AgentTrigger
	MessageID string
}

var errStaleRun = errors.New("negotiation changed during agent run")

// Orchestrator runs single-shot agent turns: read state, ask the model, apply guardrails,
// then write the message or pause the agent.
type Orchestrator struct {
	svc        *NegotiationService
	completion Completion
	scheduler  TaskScheduler
	logger     *log.Logger
}

// NewOrchestrator returns a new Orchestrator.
func NewOrchestrator(svc *NegotiationService, completion Completion, scheduler TaskScheduler, logger *log.Logger) *Orchestrator {
	return &Orchestrator{svc: svc, completion: completion, scheduler: scheduler, logger: logger}
}

// HandleTask runs the agent for a run_agent task.
func (o *Orchestrator) HandleTask(ctx context.Context, t domain.Task) error {
	_, err := o.run(ctx, t.NegotiationID, t.MessageID, t.ID)
	return err
}

// Run executes one agent turn for the negotiation.
func (o *Orchestrator) Run(ctx context.Context, negotiationID string) (RunResult, error) {
	return o.run(ctx, negotiationID, "", newLogID())
}

// RunAfter executes one agent turn answering afterMessageID. If the agent already
// replied after that message the run is skipped.
func (o *Orchestrator) RunAfter(ctx context.Context, negotiationID, afterMessageID string) (RunResult, error) {
	return o.run(ctx, negotiationID, afterMessageID, newLogID())
}

// run executes one turn whose reply, if any, is stored under replyID. A reply that
// already exists is not generated again; only its email is rescheduled.
func (o *Orchestrator) run(ctx context.Context, negotiationID, afterMessageID, replyID string) (RunResult, error) {
	var snap *domain.Negotiation
	err := o.svc.Query(ctx, negotiationID, func(n *domain.Negotiation) error {
		snap = n
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		o.logger.Printf("Orchestrator: negotiation %s not found, skipping", negotiationID)
		return RunResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return RunResult{}, err
	}

	if _, ok := snap.FindMessage(replyID); ok {
		o.logger.Printf("Orchestrator: negotiation %s reply %s already recorded, rescheduling email", negotiationID, replyID)
		if err := o.scheduler.ScheduleEmail(ctx, negotiationID, replyID); err != nil {
			return RunResult{}, err
		}
		return RunResult{Outcome: OutcomeCompleted, Action: ActionSendMessage, MessageID: replyID}, nil
	}

	cfg, err := o.svc.AgentConfig(ctx, negotiationID)
	if err != nil {
		return RunResult{}, err
	}

	if !snap.AgentRunnable() || snap.AgentState != domain.AgentRunning {
		o.logger.Printf("Orchestrator: negotiation %s not runnable (active=%v status=%s state=%q), skipping",
			negotiationID, snap.IsAgentActive, snap.Status, snap.AgentState)
		return RunResult{Outcome: OutcomeSkipped}, nil
	}
	if afterMessageID != "" && answeredAfter(snap, afterMessageID) {
		o.logger.Printf("Orchestrator: negotiation %s already answered message %s, skipping", negotiationID, afterMessageID)
		return RunResult{Outcome: OutcomeSkipped}, nil
	}

	proposal := o.propose(ctx, snap, cfg)
	d := Decide(DecisionInput{
		Action:              proposal.Action,
		Reason:              proposal.Reason,
		Message:             proposal.MessageContent,
		Signals:             proposal.Signals,
		ReplyCountBefore:    snap.AgentReplyCount,
		TotalMessagesBefore: len(snap.Messages),
		Config:              cfg,
	})

	switch d.Action {
	case ActionSendMessage:
		return o.send(ctx, negotiationID, replyID, d)
	case ActionNeedsReview:
		return o.pause(ctx, negotiationID, domain.AgentNeedsReview, d)
	default:
		return o.pause(ctx, negotiationID, domain.AgentError, d)
	}
}

// propose asks the model for the next step. Any failure becomes an error proposal.
func (o *Orchestrator) propose(ctx context.Context, n *domain.Negotiation, cfg domain.AgentConfig) AgentReply {
	prompt := BuildPrompt(PromptInput{
		Negotiation: n,
		Config:      cfg,
		PricePerKm:  domain.PricePerKm(n),
	})
	raw, err := o.completion.Generate(ctx, prompt)
	if err != nil {
		o.logger.Printf("Orchestrator: negotiation %s completion failed: %v", n.ID, err)
		return AgentReply{Action: ActionError, Reason: fmt.Sprintf("Completion failed: %v", err)}
	}
	reply, err := ParseAgentReply(raw)
	if err != nil {
		o.logger.Printf("Orchestrator: negotiation %s unusable completion: %v", n.ID, err)
		return AgentReply{Action: ActionError, Reason: fmt.Sprintf("Invalid agent response: %v", err)}
	}
	return reply
}

func (o *Orchestrator) send(ctx context.Context, negotiationID, msgID string, d Decision) (RunResult, error) {
	count, err := o.svc.IncrementReplyCount(ctx, negotiationID)
	if err != nil {
		return RunResult{}, err
	}

	var total int
	err = o.svc.Run(ctx, negotiationID, func(n *domain.Negotiation) error {
		if !n.AgentRunnable() || n.AgentState != domain.AgentRunning {
			return errStaleRun
		}
		n.AppendMessage(domain.Message{
			ID:        msgID,
			Sender:    domain.SenderAgent,
			Content:   d.Message,
			Timestamp: o.svc.Now(),
		})
		total = len(n.Messages)
		return nil
	})
	if errors.Is(err, errStaleRun) {
		o.logger.Printf("Orchestrator: negotiation %s changed during run, reply dropped", negotiationID)
		return RunResult{Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return RunResult{}, err
	}

	o.logger.Printf("Orchestrator: negotiation %s reply %d sent (round %d)", negotiationID, count, domain.RoundEstimate(total))
	if err := o.scheduler.ScheduleEmail(ctx, negotiationID, msgID); err != nil {
		return RunResult{}, err
	}
	return RunResult{Outcome: OutcomeCompleted, Action: ActionSendMessage, Reason: d.Reason, MessageID: msgID}, nil
}

func (o *Orchestrator) pause(ctx context.Context, negotiationID string, state domain.AgentState, d Decision) (RunResult, error) {
	paused, err := o.svc.pauseAgent(ctx, negotiationID, state, d.Reason, d.Trigger)
	if err != nil {
		return RunResult{}, err
	}
	if !paused {
		return RunResult{Outcome: OutcomeSkipped}, nil
	}
	o.logger.Printf("Orchestrator: negotiation %s paused (%s): %s", negotiationID, state, d.Reason)
	return RunResult{Outcome: OutcomeCompleted, Action: d.Action, Reason: d.Reason, Trigger: d.Trigger}, nil
}

// answeredAfter reports whether an agent message follows messageID.
func answeredAfter(n *domain.Negotiation, messageID string) bool {
	seen := false
	for _, m := range n.Messages {
		if m.ID == messageID {
			seen = true
			continue
		}
		if seen && m.Sender == domain.SenderAgent {
			return true
		}
	}
	return false
}
