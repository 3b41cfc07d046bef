package events

import (
	"github.com/loadline/negotiator/internal/domain"
)

// NegotiationUpdated is emitted after every committed write to a negotiation.
type NegotiationUpdated struct {
	NegotiationID string            `json:"negotiationId"`
	UserID        string            `json:"-"`
	Status        domain.Status     `json:"status"`
	IsAgentActive bool              `json:"isAgentActive"`
	AgentState    domain.AgentState `json:"agentState,omitempty"`
	MessageCount  int               `json:"messageCount"`
}

func (NegotiationUpdated) EventName() string { return "negotiation.updated" }
func (e NegotiationUpdated) Owner() string   { return e.UserID }

// NotificationCreated is emitted when the agent pauses and notifies its user.
type NotificationCreated struct {
	NotificationID string                  `json:"notificationId"`
	UserID         string                  `json:"-"`
	NegotiationID  string                  `json:"negotiationId"`
	Type           domain.NotificationType `json:"type"`
	Title          string                  `json:"title"`
}

func (NotificationCreated) EventName() string { return "notification.created" }
func (e NotificationCreated) Owner() string   { return e.UserID }

// Sink adapts an Emitter to app.EventSink.
type Sink struct {
	emitter *Emitter
}

// NewSink returns a sink publishing to emitter.
func NewSink(emitter *Emitter) *Sink {
	return &Sink{emitter: emitter}
}

// NegotiationChanged implements app.EventSink.
func (s *Sink) NegotiationChanged(n *domain.Negotiation) {
	s.emitter.Emit(NegotiationUpdated{
		NegotiationID: n.ID,
		UserID:        n.UserID,
		Status:        n.Status,
		IsAgentActive: n.IsAgentActive,
		AgentState:    n.AgentState,
		MessageCount:  n.MessageCount,
	})
}

// NotificationCreated implements app.EventSink.
func (s *Sink) NotificationCreated(n domain.Notification) {
	s.emitter.Emit(NotificationCreated{
		NotificationID: n.ID,
		UserID:         n.UserID,
		NegotiationID:  n.SourceID,
		Type:           n.Type,
		Title:          n.Title,
	})
}
