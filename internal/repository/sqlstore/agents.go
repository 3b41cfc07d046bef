package sqlstore

import (
	"context"
	"fmt"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

// GetAgentConfig implements app.AgentConfigRepository.
func (s *Store) GetAgentConfig(ctx context.Context, negotiationID string) (*domain.AgentConfig, error) {
	var (
		c                                                     domain.AgentConfig
		style, ua                                             string
		nPrice, nTerms, nTarget, nAgree, nConfusion, nRefusal int
		bPrice, bTerms, bTarget, bAgree, bConfusion, bRefusal int
	)
	err := s.db.QueryRowContext(ctx, "SELECT "+configColumns+" FROM agent_configs WHERE negotiation_id = ?", negotiationID).Scan(
		&c.NegotiationID, &style,
		&nPrice, &nTerms, &nTarget, &nAgree, &nConfusion, &nRefusal,
		&c.MaxAutoReplies, &c.NotifyAfterRounds,
		&bPrice, &bTerms, &bTarget, &bAgree, &bConfusion, &bRefusal,
		&ua)
	if err != nil {
		return nil, notFound(err)
	}
	c.Style = domain.Style(style)
	c.NotifyPriceChange, c.NotifyNewTerms, c.NotifyTargetReached = nPrice != 0, nTerms != 0, nTarget != 0
	c.NotifyAgreement, c.NotifyConfusion, c.NotifyRefusal = nAgree != 0, nConfusion != 0, nRefusal != 0
	c.BypassPriceChange, c.BypassNewTerms, c.BypassTargetReached = bPrice != 0, bTerms != 0, bTarget != 0
	c.BypassAgreement, c.BypassConfusion, c.BypassRefusal = bAgree != 0, bConfusion != 0, bRefusal != 0
	if c.UpdatedAt, err = parseTime(ua, "agent_configs"); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveAgentConfig implements app.AgentConfigRepository.
func (s *Store) SaveAgentConfig(ctx context.Context, c *domain.AgentConfig) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsertConfig,
		c.NegotiationID, string(c.Style),
		boolInt(c.NotifyPriceChange), boolInt(c.NotifyNewTerms), boolInt(c.NotifyTargetReached),
		boolInt(c.NotifyAgreement), boolInt(c.NotifyConfusion), boolInt(c.NotifyRefusal),
		c.MaxAutoReplies, c.NotifyAfterRounds,
		boolInt(c.BypassPriceChange), boolInt(c.BypassNewTerms), boolInt(c.BypassTargetReached),
		boolInt(c.BypassAgreement), boolInt(c.BypassConfusion), boolInt(c.BypassRefusal),
		formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save agent config: %w", err)
	}
	return nil
}

// DeleteAgentConfig implements app.AgentConfigRepository.
func (s *Store) DeleteAgentConfig(ctx context.Context, negotiationID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_configs WHERE negotiation_id = ?", negotiationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return app.ErrNotFound
	}
	return nil
}

// CreateNotification implements app.NotificationRepository.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, notification_type, title, content, source_id, source_name, read_flag, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.UserID, string(n.Type), n.Title, n.Content, n.SourceID, n.SourceName, boolInt(n.Read), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications implements app.NotificationRepository. Newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	q := "SELECT id, user_id, notification_type, title, content, source_id, source_name, read_flag, created_at FROM notifications WHERE user_id = ?"
	if unreadOnly {
		q += " AND read_flag = 0"
	}
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var typ, ca string
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Content, &n.SourceID, &n.SourceName, &read, &ca); err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(typ)
		n.Read = read != 0
		if n.CreatedAt, err = parseTime(ca, "notifications"); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifications iteration: %w", err)
	}
	sortNotifications(out)
	return out, nil
}

// MarkNotificationRead implements app.NotificationRepository.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM notifications WHERE id = ? AND user_id = ?", id, userID).Scan(&one)
	if err != nil {
		return notFound(err)
	}
	_, err = s.db.ExecContext(ctx, "UPDATE notifications SET read_flag = 1 WHERE id = ? AND user_id = ?", id, userID)
	return err
}
