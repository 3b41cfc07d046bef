// Package domain holds negotiation entities and their state machine.
// It has no dependencies on other packages.
package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle status of a negotiation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// AgentState is the agent sub-state while the agent is active.
// The zero value means running.
type AgentState string

const (
	AgentRunning     AgentState = ""
	AgentNeedsReview AgentState = "needs_review"
	AgentError       AgentState = "error"
)

// AgentTrigger names the guardrail or failure that paused the agent.
type AgentTrigger string

const (
	TriggerNone            AgentTrigger = ""
	TriggerMaxReplies      AgentTrigger = "max_replies"
	TriggerRoundCheckpoint AgentTrigger = "round_checkpoint"
	TriggerTargetReached   AgentTrigger = "target_reached"
	TriggerAgreement       AgentTrigger = "agreement"
	TriggerPriceChange     AgentTrigger = "price_change"
	TriggerNewTerms        AgentTrigger = "new_terms"
	TriggerConfusion       AgentTrigger = "confusion"
	TriggerRefusal         AgentTrigger = "refusal"
	TriggerAgentReview     AgentTrigger = "agent_review"
	TriggerCompletion      AgentTrigger = "completion_failure"
	TriggerDelivery        AgentTrigger = "delivery_failure"
)

var triggerLabels = map[AgentTrigger]string{
	TriggerMaxReplies:      "max replies reached",
	TriggerRoundCheckpoint: "round checkpoint",
	TriggerTargetReached:   "target price reached",
	TriggerAgreement:       "agreement detected",
	TriggerPriceChange:     "price change",
	TriggerNewTerms:        "new terms",
	TriggerConfusion:       "carrier confused",
	TriggerRefusal:         "carrier refused",
	TriggerAgentReview:     "agent asked for review",
	TriggerCompletion:      "model failure",
	TriggerDelivery:        "email delivery failed",
}

// Label returns a short human-readable name for the trigger, or "" for none.
func (t AgentTrigger) Label() string {
	if l, ok := triggerLabels[t]; ok {
		return l
	}
	return strings.ReplaceAll(string(t), "_", " ")
}

// Message senders. Inbound email uses EmailSender(address).
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// EmailSenderPrefix prefixes the sender of messages ingested from email.
const EmailSenderPrefix = "Email: "

// EmailSender returns the sender tag for a message received from address.
func EmailSender(address string) string {
	return EmailSenderPrefix + address
}

// Message is one entry in a negotiation's append-only conversation.
type Message struct {
	ID             string    `json:"id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	EmailMessageID string    `json:"emailMessageId,omitempty"`
}

// IsSystem reports whether the message was written by the system.
func (m Message) IsSystem() bool { return m.Sender == SenderSystem }

// OfferStatus is the status of a single counter-offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Counter-offer proposers.
const (
	ProposedByUser    = "user"
	ProposedByAgent   = "agent"
	ProposedByCarrier = "carrier"
)

// CounterOffer is a price proposal. Only Status changes after creation.
type CounterOffer struct {
	ID         string      `json:"id"`
	Price      float64     `json:"price"`
	ProposedBy string      `json:"proposedBy"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     OfferStatus `json:"status"`
	Notes      string      `json:"notes,omitempty"`
}

// InitialRequest is the immutable snapshot of the freight request that opened the negotiation.
type InitialRequest struct {
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Price        string `json:"price"`
	Distance     string `json:"distance"`
	LoadType     string `json:"loadType,omitempty"`
	Weight       string `json:"weight,omitempty"`
	PickupDate   string `json:"pickupDate,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
	ContactName  string `json:"contactName,omitempty"`
}

// Route returns "Origin → Destination".
func (r InitialRequest) Route() string {
	return r.Origin + " → " + r.Destination
}

// Negotiation is the aggregate root of one freight deal.
type Negotiation struct {
	ID             string         `json:"id"`
	OfferID        string         `json:"offerId"`
	UserID         string         `json:"userId"`
	InitialRequest InitialRequest `json:"initialRequest"`
	Status         Status         `json:"status"`
	FinalPrice     string         `json:"finalPrice,omitempty"`
	Messages       []Message      `json:"messages"`
	CounterOffers  []CounterOffer `json:"counterOffers"`

	IsAgentActive         bool         `json:"isAgentActive"`
	AgentTargetPricePerKm *float64     `json:"agentTargetPricePerKm,omitempty"`
	AgentState            AgentState   `json:"agentState,omitempty"`
	AgentMessage          string       `json:"agentMessage,omitempty"`
	AgentTrigger          AgentTrigger `json:"agentTrigger,omitempty"`
	AgentReplyCount       int          `json:"agentReplyCount"`

	EmailThreadID      string   `json:"emailThreadId,omitempty"`
	LastEmailMessageID string   `json:"lastEmailMessageId,omitempty"`
	EmailSubject       string   `json:"emailSubject,omitempty"`
	EmailCcRecipients  []string `json:"emailCcRecipients,omitempty"`

	// Projections recomputed on every append.
	CurrentPrice *float64 `json:"currentPrice,omitempty"`
	MessageCount int      `json:"messageCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the stored revision this copy was loaded at. Saves from an older
	// revision are refused.
	Version int64 `json:"-"`
}

// Style is the negotiation style the agent adopts.
type Style string

const (
	StyleConservative Style = "conservative"
	StyleBalanced     Style = "balanced"
	StyleAggressive   Style = "aggressive"
)

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	switch s {
	case StyleConservative, StyleBalanced, StyleAggressive:
		return true
	}
	return false
}

// UnlimitedReplies disables the automatic reply cap.
const UnlimitedReplies = -1

// AgentConfig holds per-negotiation agent guardrails.
type AgentConfig struct {
	NegotiationID string `json:"negotiationId"`
	Style         Style  `json:"style"`

	NotifyPriceChange   bool `json:"notifyPriceChange"`
	NotifyNewTerms      bool `json:"notifyNewTerms"`
	NotifyTargetReached bool `json:"notifyTargetReached"`
	NotifyAgreement     bool `json:"notifyAgreement"`
	NotifyConfusion     bool `json:"notifyConfusion"`
	NotifyRefusal       bool `json:"notifyRefusal"`

	MaxAutoReplies    int `json:"maxAutoReplies"`
	NotifyAfterRounds int `json:"notifyAfterRounds"`

	BypassPriceChange   bool `json:"bypassPriceChange"`
	BypassNewTerms      bool `json:"bypassNewTerms"`
	BypassTargetReached bool `json:"bypassTargetReached"`
	BypassAgreement     bool `json:"bypassAgreement"`
	BypassConfusion     bool `json:"bypassConfusion"`
	BypassRefusal       bool `json:"bypassRefusal"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// NotificationType classifies a user notification.
type NotificationType string

const (
	NotificationNeedsReview NotificationType = "agent_needs_review"
	NotificationError       NotificationType = "agent_error"
	NotificationInfo        NotificationType = "agent_info"
)

// Notification is a user-facing alert tied to a negotiation.
type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	SourceID   string           `json:"sourceId"`
	SourceName string           `json:"sourceName"`
	Read       bool             `json:"read"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// TaskKind is the kind of scheduled background work.
type TaskKind string

const (
	TaskRunAgent  TaskKind = "run_agent"
	TaskSendEmail TaskKind = "send_email"
)

// Task is a unit of scheduled work delivered at least once.
type Task struct {
	ID             string    `json:"id"`
	Kind           TaskKind  `json:"kind"`
	NegotiationID  string    `json:"negotiationId"`
	MessageID      string    `json:"messageId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Attempts       int       `json:"attempts"`
	AvailableAt    time.Time `json:"availableAt"`
	LeasedUntil    time.Time `json:"leasedUntil,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
