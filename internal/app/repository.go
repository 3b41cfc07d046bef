// Package app implements negotiation use cases and defines ports (repository interfaces).
package app

import (
	"context"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

// NegotiationRepository persists negotiations. Messages and counter-offers are
// append-only: Save inserts entries it has not seen and only updates a message's
// email Message-ID and an offer's status in place.
// Implementation: internal/repository/sqlstore.
type NegotiationRepository interface {
	Create(ctx context.Context, n *domain.Negotiation) error
	Get(ctx context.Context, id string) (*domain.Negotiation, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Negotiation, error)
	Save(ctx context.Context, n *domain.Negotiation) error
	Delete(ctx context.Context, id string) error
	// IncrementReplyCount atomically adds one to the agent reply counter and returns the new value.
	IncrementReplyCount(ctx context.Context, id string) (int, error)
}

// AgentConfigRepository persists per-negotiation agent configuration.
type AgentConfigRepository interface {
	GetAgentConfig(ctx context.Context, negotiationID string) (*domain.AgentConfig, error)
	SaveAgentConfig(ctx context.Context, cfg *domain.AgentConfig) error
	DeleteAgentConfig(ctx context.Context, negotiationID string) error
}

// NotificationRepository persists user notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// TaskQueue delivers tasks at least once. Enqueue is idempotent on Task.IdempotencyKey.
// Implementations: internal/repository/sqlstore, internal/queue/memqueue, internal/queue/redisqueue.
type TaskQueue interface {
	// Enqueue stores t and reports false when a task with the same idempotency key exists.
	Enqueue(ctx context.Context, t domain.Task) (bool, error)
	// Lease claims the next due task until now+lease. It returns nil, nil when none is due.
	Lease(ctx context.Context, now time.Time, lease time.Duration) (*domain.Task, error)
	Ack(ctx context.Context, id string) error
	// Nack releases a leased task for another attempt at retryAt.
	Nack(ctx context.Context, id string, retryAt time.Time, lastErr string) error
	// RequeueExpired makes tasks whose lease ran out available again.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
}
