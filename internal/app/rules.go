package app

import (
	"fmt"

	"github.com/loadline/negotiator/internal/domain"
)

// Action is what the agent (or the rule engine on its behalf) decided to do.
type Action string

const (
	ActionSendMessage Action = "send_message"
	ActionNeedsReview Action = "needs_review"
	ActionError       Action = "error"
)

// Signals are structured observations the model reports about the counterparty's latest message.
type Signals struct {
	TargetReached bool `json:"targetReached"`
	Agreement     bool `json:"agreement"`
	PriceChange   bool `json:"priceChange"`
	NewTerms      bool `json:"newTerms"`
	Confusion     bool `json:"confusion"`
	Refusal       bool `json:"refusal"`
}

// DecisionInput is everything Decide looks at.
type DecisionInput struct {
	Action              Action
	Reason              string
	Message             string
	Signals             Signals
	ReplyCountBefore    int
	TotalMessagesBefore int
	Config              domain.AgentConfig
}

// Decision is the final action after guardrails.
type Decision struct {
	Action  Action
	Reason  string
	Message string
	Trigger domain.AgentTrigger
}

type signalCheck struct {
	trigger domain.AgentTrigger
	reason  string
	fired   func(Signals) bool
	notify  func(domain.AgentConfig) bool
	bypass  func(domain.AgentConfig) bool
}

// signalChecks run in order; the first that fires wins.
var signalChecks = []signalCheck{
	{
		trigger: domain.TriggerTargetReached,
		reason:  "Counterparty offer reaches the target price.",
		fired:   func(s Signals) bool { return s.TargetReached },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyTargetReached },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassTargetReached },
	},
	{
		trigger: domain.TriggerAgreement,
		reason:  "Counterparty appears ready to agree.",
		fired:   func(s Signals) bool { return s.Agreement },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyAgreement },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassAgreement },
	},
	{
		trigger: domain.TriggerPriceChange,
		reason:  "Counterparty changed the price.",
		fired:   func(s Signals) bool { return s.PriceChange },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyPriceChange },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassPriceChange },
	},
	{
		trigger: domain.TriggerNewTerms,
		reason:  "Counterparty introduced new terms.",
		fired:   func(s Signals) bool { return s.NewTerms },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyNewTerms },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassNewTerms },
	},
	{
		trigger: domain.TriggerConfusion,
		reason:  "Counterparty seems confused.",
		fired:   func(s Signals) bool { return s.Confusion },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyConfusion },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassConfusion },
	},
	{
		trigger: domain.TriggerRefusal,
		reason:  "Counterparty refused to continue.",
		fired:   func(s Signals) bool { return s.Refusal },
		notify:  func(c domain.AgentConfig) bool { return c.NotifyRefusal },
		bypass:  func(c domain.AgentConfig) bool { return c.BypassRefusal },
	},
}

// Decide applies the agent guardrails to a proposed action. It only ever downgrades
// send_message to needs_review; the first matching rule wins.
func Decide(in DecisionInput) Decision {
	switch in.Action {
	case ActionSendMessage:
	case ActionNeedsReview:
		return Decision{Action: ActionNeedsReview, Reason: orDefault(in.Reason, "The agent asked for human review."), Trigger: domain.TriggerAgentReview}
	case ActionError:
		return Decision{Action: ActionError, Reason: orDefault(in.Reason, "The agent could not produce a response."), Trigger: domain.TriggerCompletion}
	default:
		return Decision{Action: ActionError, Reason: fmt.Sprintf("Unknown action %q.", in.Action), Trigger: domain.TriggerCompletion}
	}

	cfg := in.Config
	if cfg.MaxAutoReplies != domain.UnlimitedReplies && in.ReplyCountBefore >= cfg.MaxAutoReplies {
		return review(fmt.Sprintf("Maximum automatic replies (%d) reached.", cfg.MaxAutoReplies), domain.TriggerMaxReplies)
	}
	if r := cfg.NotifyAfterRounds; r > 0 && (in.TotalMessagesBefore+1)%(2*r) == 0 {
		return review(fmt.Sprintf("Reached notification point after %d rounds.", r), domain.TriggerRoundCheckpoint)
	}
	for _, c := range signalChecks {
		if c.fired(in.Signals) && c.notify(cfg) && !c.bypass(cfg) {
			return review(c.reason, c.trigger)
		}
	}
	return Decision{Action: ActionSendMessage, Reason: in.Reason, Message: in.Message}
}

func review(reason string, trigger domain.AgentTrigger) Decision {
	return Decision{Action: ActionNeedsReview, Reason: reason, Trigger: trigger}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
