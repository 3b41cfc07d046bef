package app

import (
	"context"
	"fmt"

	"github.com/loadline/negotiator/internal/domain"
)

// NotificationInput describes a notification to create.
type NotificationInput struct {
	UserID     string
	Type       domain.NotificationType
	Title      string
	Content    string
	SourceID   string
	SourceName string
}

// Notify stores a notification and publishes it to live clients.
func (s *NegotiationService) Notify(ctx context.Context, in NotificationInput) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:         newEntityID(),
		UserID:     in.UserID,
		Type:       in.Type,
		Title:      in.Title,
		Content:    in.Content,
		SourceID:   in.SourceID,
		SourceName: in.SourceName,
		CreatedAt:  s.now(),
	}
	if err := s.notifications.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	if s.events != nil {
		s.events.NotificationCreated(*n)
	}
	return n, nil
}

// ListNotifications returns the caller's notifications, newest first.
func (s *NegotiationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.notifications.ListNotifications(ctx, userID, unreadOnly)
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (s *NegotiationService) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	return s.notifications.MarkNotificationRead(ctx, userID, id)
}

// notifyAgentPaused raises the review or error notification for a paused agent.
// The title names the route and what paused the agent.
func (s *NegotiationService) notifyAgentPaused(ctx context.Context, n *domain.Negotiation, state domain.AgentState, reason string, trigger domain.AgentTrigger) {
	in := NotificationInput{
		UserID:     n.UserID,
		Content:    reason,
		SourceID:   n.ID,
		SourceName: n.InitialRequest.Route(),
	}
	cause := trigger.Label()
	if cause == "" {
		cause = Truncate(reason, 60)
	}
	if state == domain.AgentNeedsReview {
		in.Type = domain.NotificationNeedsReview
		in.Title = "Agent needs review: " + in.SourceName
	} else {
		in.Type = domain.NotificationError
		in.Title = "Agent error: " + in.SourceName
	}
	if cause != "" {
		in.Title += " (" + cause + ")"
	}
	if _, err := s.Notify(ctx, in); err != nil {
		s.logger.Printf("Notify: negotiation %s: %v", n.ID, err)
	}
}

// pauseAgent moves a still-runnable agent into state and notifies the owner.
// It reports false when the negotiation changed underneath and nothing was done.
func (s *NegotiationService) pauseAgent(ctx context.Context, id string, state domain.AgentState, reason string, trigger domain.AgentTrigger) (bool, error) {
	var snapshot domain.Negotiation
	paused := false
	err := s.Run(ctx, id, func(n *domain.Negotiation) error {
		paused = false
		if !n.AgentRunnable() || n.AgentState != domain.AgentRunning {
			return nil
		}
		n.FlagAgent(state, reason, trigger, s.now())
		snapshot = *n
		paused = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if paused {
		s.notifyAgentPaused(ctx, &snapshot, state, reason, trigger)
	}
	return paused, nil
}
