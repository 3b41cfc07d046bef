package app

import (
	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/policy"
)

// DefaultAgentConfig builds the configuration used when a negotiation has none stored.
// Bypass flags always start off.
func DefaultAgentConfig(negotiationID string, d policy.AgentDefaults) domain.AgentConfig {
	style := domain.Style(d.Style)
	if !style.Valid() {
		style = domain.StyleBalanced
	}
	return domain.AgentConfig{
		NegotiationID:       negotiationID,
		Style:               style,
		NotifyPriceChange:   d.NotifyPriceChange,
		NotifyNewTerms:      d.NotifyNewTerms,
		NotifyTargetReached: d.NotifyTargetReached,
		NotifyAgreement:     d.NotifyAgreement,
		NotifyConfusion:     d.NotifyConfusion,
		NotifyRefusal:       d.NotifyRefusal,
		MaxAutoReplies:      d.MaxAutoReplies,
		NotifyAfterRounds:   d.NotifyAfterRounds,
	}
}

// AgentSettings is a partial update of agent configuration. Nil fields keep the stored value.
type AgentSettings struct {
	Style               *domain.Style `json:"style,omitempty"`
	NotifyPriceChange   *bool         `json:"notifyPriceChange,omitempty"`
	NotifyNewTerms      *bool         `json:"notifyNewTerms,omitempty"`
	NotifyTargetReached *bool         `json:"notifyTargetReached,omitempty"`
	NotifyAgreement     *bool         `json:"notifyAgreement,omitempty"`
	NotifyConfusion     *bool         `json:"notifyConfusion,omitempty"`
	NotifyRefusal       *bool         `json:"notifyRefusal,omitempty"`
	MaxAutoReplies      *int          `json:"maxAutoReplies,omitempty"`
	NotifyAfterRounds   *int          `json:"notifyAfterRounds,omitempty"`
}

// Validate rejects unknown styles and negative limits other than the unlimited sentinel.
func (a AgentSettings) Validate() error {
	if a.Style != nil && !a.Style.Valid() {
		return ErrInvalidInput
	}
	if a.MaxAutoReplies != nil && *a.MaxAutoReplies < domain.UnlimitedReplies {
		return ErrInvalidInput
	}
	if a.NotifyAfterRounds != nil && *a.NotifyAfterRounds < 0 {
		return ErrInvalidInput
	}
	return nil
}

// Apply merges a over cfg.
func (a AgentSettings) Apply(cfg *domain.AgentConfig) {
	if a.Style != nil {
		cfg.Style = *a.Style
	}
	setBool(&cfg.NotifyPriceChange, a.NotifyPriceChange)
	setBool(&cfg.NotifyNewTerms, a.NotifyNewTerms)
	setBool(&cfg.NotifyTargetReached, a.NotifyTargetReached)
	setBool(&cfg.NotifyAgreement, a.NotifyAgreement)
	setBool(&cfg.NotifyConfusion, a.NotifyConfusion)
	setBool(&cfg.NotifyRefusal, a.NotifyRefusal)
	if a.MaxAutoReplies != nil {
		cfg.MaxAutoReplies = *a.MaxAutoReplies
	}
	if a.NotifyAfterRounds != nil {
		cfg.NotifyAfterRounds = *a.NotifyAfterRounds
	}
}

// BypassFlags are set by a human "continue" to let the agent proceed past specific checks.
type BypassFlags struct {
	PriceChange   bool `json:"priceChange,omitempty"`
	NewTerms      bool `json:"newTerms,omitempty"`
	TargetReached bool `json:"targetReached,omitempty"`
	Agreement     bool `json:"agreement,omitempty"`
	Confusion     bool `json:"confusion,omitempty"`
	Refusal       bool `json:"refusal,omitempty"`
}

// Apply overwrites the bypass flags of cfg.
func (b BypassFlags) Apply(cfg *domain.AgentConfig) {
	cfg.BypassPriceChange = b.PriceChange
	cfg.BypassNewTerms = b.NewTerms
	cfg.BypassTargetReached = b.TargetReached
	cfg.BypassAgreement = b.Agreement
	cfg.BypassConfusion = b.Confusion
	cfg.BypassRefusal = b.Refusal
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
