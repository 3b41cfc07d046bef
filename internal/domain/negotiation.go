package domain

import (
	"errors"
	"time"
)

var (
	// ErrNegotiationClosed is returned when mutating a negotiation that is accepted or rejected.
	ErrNegotiationClosed = errors.New("negotiation is closed")
	// ErrInvalidTarget is returned when activating the agent without a positive target price.
	ErrInvalidTarget = errors.New("target price per km must be a positive number")
	// ErrAgentNotActive is returned by agent operations that require an active agent.
	ErrAgentNotActive = errors.New("agent is not active")
	// ErrOfferNotFound is returned when a counter-offer id does not exist.
	ErrOfferNotFound = errors.New("counter-offer not found")
)

// NewNegotiation returns a pending negotiation with projections computed.
func NewNegotiation(id, offerID, userID string, req InitialRequest, now time.Time) *Negotiation {
	n := &Negotiation{
		ID:             id,
		OfferID:        offerID,
		UserID:         userID,
		InitialRequest: req,
		Status:         StatusPending,
		Messages:       []Message{},
		CounterOffers:  []CounterOffer{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	n.recompute()
	return n
}

// AgentRunnable reports whether the orchestrator may act on the negotiation.
func (n *Negotiation) AgentRunnable() bool {
	return n.IsAgentActive && n.AgentTargetPricePerKm != nil && n.Status == StatusPending
}

// AppendMessage appends m to the conversation log.
func (n *Negotiation) AppendMessage(m Message) {
	n.Messages = append(n.Messages, m)
	n.UpdatedAt = m.Timestamp
	n.recompute()
}

// HasEmailMessage reports whether a message with the given email Message-ID was already recorded.
func (n *Negotiation) HasEmailMessage(emailMessageID string) bool {
	_, ok := n.FindEmailMessage(emailMessageID)
	return ok
}

// FindEmailMessage returns the message carrying the given email Message-ID.
func (n *Negotiation) FindEmailMessage(emailMessageID string) (Message, bool) {
	if emailMessageID == "" {
		return Message{}, false
	}
	for _, m := range n.Messages {
		if m.EmailMessageID == emailMessageID {
			return m, true
		}
	}
	return Message{}, false
}

// AddCounterOffer appends o. Closed negotiations reject new offers.
func (n *Negotiation) AddCounterOffer(o CounterOffer) error {
	if n.Status.Terminal() {
		return ErrNegotiationClosed
	}
	if o.Status == "" {
		o.Status = OfferPending
	}
	n.CounterOffers = append(n.CounterOffers, o)
	n.UpdatedAt = o.Timestamp
	n.recompute()
	return nil
}

// UpdateCounterOfferStatus sets the status of one offer. Accepting an offer accepts
// the negotiation at that offer's price.
func (n *Negotiation) UpdateCounterOfferStatus(offerID string, status OfferStatus, now time.Time) error {
	if n.Status.Terminal() {
		return ErrNegotiationClosed
	}
	for i := range n.CounterOffers {
		if n.CounterOffers[i].ID != offerID {
			continue
		}
		n.CounterOffers[i].Status = status
		n.UpdatedAt = now
		if status == OfferAccepted {
			n.close(StatusAccepted, FormatPrice(n.CounterOffers[i].Price), now)
		}
		return nil
	}
	return ErrOfferNotFound
}

// ActivateAgent turns the agent on with a target price per km and resets its counters.
func (n *Negotiation) ActivateAgent(targetPerKm float64, now time.Time) error {
	if n.Status.Terminal() {
		return ErrNegotiationClosed
	}
	if targetPerKm <= 0 {
		return ErrInvalidTarget
	}
	t := targetPerKm
	n.IsAgentActive = true
	n.AgentTargetPricePerKm = &t
	n.AgentReplyCount = 0
	n.ClearAgentState()
	n.UpdatedAt = now
	return nil
}

// DeactivateAgent turns the agent off. Agent configuration is kept elsewhere.
func (n *Negotiation) DeactivateAgent(now time.Time) {
	n.IsAgentActive = false
	n.AgentTargetPricePerKm = nil
	n.AgentReplyCount = 0
	n.ClearAgentState()
	n.UpdatedAt = now
}

// ClearAgentState returns the agent to running.
func (n *Negotiation) ClearAgentState() {
	n.AgentState = AgentRunning
	n.AgentMessage = ""
	n.AgentTrigger = TriggerNone
}

// FlagAgent pauses the agent for human attention.
func (n *Negotiation) FlagAgent(state AgentState, reason string, trigger AgentTrigger, now time.Time) {
	n.AgentState = state
	n.AgentMessage = reason
	n.AgentTrigger = trigger
	n.UpdatedAt = now
}

// Accept closes the negotiation as accepted and freezes the final price.
func (n *Negotiation) Accept(now time.Time) error {
	if n.Status.Terminal() {
		return ErrNegotiationClosed
	}
	n.close(StatusAccepted, FinalPrice(n), now)
	return nil
}

// Reject closes the negotiation as rejected.
func (n *Negotiation) Reject(now time.Time) error {
	if n.Status.Terminal() {
		return ErrNegotiationClosed
	}
	n.close(StatusRejected, "", now)
	return nil
}

func (n *Negotiation) close(status Status, finalPrice string, now time.Time) {
	n.Status = status
	if status == StatusAccepted {
		n.FinalPrice = finalPrice
	}
	n.DeactivateAgent(now)
}

// RecordOutboundEmail links a sent email to the message it carried and to the thread.
func (n *Negotiation) RecordOutboundEmail(messageID, emailMessageID, threadID string, now time.Time) {
	for i := range n.Messages {
		if n.Messages[i].ID == messageID {
			n.Messages[i].EmailMessageID = emailMessageID
			break
		}
	}
	if emailMessageID != "" {
		n.LastEmailMessageID = emailMessageID
	}
	if threadID != "" {
		n.EmailThreadID = threadID
	}
	n.UpdatedAt = now
}

// FindMessage returns the message with id.
func (n *Negotiation) FindMessage(id string) (Message, bool) {
	for _, m := range n.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// RecomputeProjections refreshes CurrentPrice and MessageCount, e.g. after loading from storage.
func (n *Negotiation) RecomputeProjections() {
	n.recompute()
}

func (n *Negotiation) recompute() {
	n.MessageCount = len(n.Messages)
	n.CurrentPrice = nil
	if k := len(n.CounterOffers); k > 0 {
		p := n.CounterOffers[k-1].Price
		n.CurrentPrice = &p
		return
	}
	if p, ok := ParseAmount(n.InitialRequest.Price); ok {
		n.CurrentPrice = &p
	}
}
