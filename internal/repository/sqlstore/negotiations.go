package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

// Create implements app.NegotiationRepository.
func (s *Store) Create(ctx context.Context, n *domain.Negotiation) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		req, err := json.Marshal(n.InitialRequest)
		if err != nil {
			return fmt.Errorf("marshal initial request: %w", err)
		}
		args := []any{n.ID, n.OfferID, n.UserID, string(req)}
		args = append(args, mutableArgs(n)...)
		args = append(args, formatTime(n.CreatedAt), formatTime(n.UpdatedAt), n.Version)
		if _, err := tx.ExecContext(ctx, "INSERT INTO negotiations ("+negotiationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", args...); err != nil {
			return fmt.Errorf("insert negotiation: %w", err)
		}
		return s.saveLogs(ctx, tx, n)
	})
}

// Get implements app.NegotiationRepository.
func (s *Store) Get(ctx context.Context, id string) (*domain.Negotiation, error) {
	return s.load(ctx, s.db, id)
}

// ListByUser implements app.NegotiationRepository. Newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*domain.Negotiation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM negotiations WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("negotiations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("negotiations iteration: %w", err)
	}

	out := make([]*domain.Negotiation, 0, len(ids))
	for _, id := range ids {
		n, err := s.load(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Save implements app.NegotiationRepository. The row is written only if it is still at
// n.Version; otherwise app.ErrConflict is returned and nothing changes. Messages and
// counter-offers are only ever inserted; existing rows get their mutable columns refreshed.
func (s *Store) Save(ctx context.Context, n *domain.Negotiation) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		args := mutableArgs(n)
		args = append(args, formatTime(n.UpdatedAt), n.ID, n.Version)
		res, err := tx.ExecContext(ctx, updateNegotiation, args...)
		if err != nil {
			return fmt.Errorf("update negotiation: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			var one int
			if err := tx.QueryRowContext(ctx, "SELECT 1 FROM negotiations WHERE id = ?", n.ID).Scan(&one); err != nil {
				return notFound(err)
			}
			return app.ErrConflict
		}
		return s.saveLogs(ctx, tx, n)
	})
	if err != nil {
		return err
	}
	n.Version++
	return nil
}

// Delete implements app.NegotiationRepository.
func (s *Store) Delete(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM negotiation_messages WHERE negotiation_id = ?",
			"DELETE FROM counter_offers WHERE negotiation_id = ?",
			"DELETE FROM negotiations WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// IncrementReplyCount implements app.NegotiationRepository.
func (s *Store) IncrementReplyCount(ctx context.Context, id string) (int, error) {
	var count int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE negotiations SET agent_reply_count = agent_reply_count + 1, version = version + 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return app.ErrNotFound
		}
		return tx.QueryRowContext(ctx, "SELECT agent_reply_count FROM negotiations WHERE id = ?", id).Scan(&count)
	})
	return count, err
}

// mutableArgs returns the values of the columns Save may change, status through email_cc.
func mutableArgs(n *domain.Negotiation) []any {
	cc := n.EmailCcRecipients
	if cc == nil {
		cc = []string{}
	}
	ccJSON, _ := json.Marshal(cc)
	var target sql.NullFloat64
	if n.AgentTargetPricePerKm != nil {
		target = sql.NullFloat64{Float64: *n.AgentTargetPricePerKm, Valid: true}
	}
	return []any{
		string(n.Status), n.FinalPrice,
		boolInt(n.IsAgentActive), target, string(n.AgentState), n.AgentMessage, string(n.AgentTrigger), n.AgentReplyCount,
		n.EmailThreadID, n.LastEmailMessageID, n.EmailSubject, string(ccJSON),
	}
}

func (s *Store) saveLogs(ctx context.Context, tx *sql.Tx, n *domain.Negotiation) error {
	for i, m := range n.Messages {
		if _, err := tx.ExecContext(ctx, s.dialect.upsertMessage,
			n.ID, m.ID, i, m.Sender, m.Content, formatTime(m.Timestamp), m.EmailMessageID); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	for i, o := range n.CounterOffers {
		if _, err := tx.ExecContext(ctx, s.dialect.upsertOffer,
			n.ID, o.ID, i, o.Price, o.ProposedBy, formatTime(o.Timestamp), string(o.Status), o.Notes); err != nil {
			return fmt.Errorf("save counter-offer %s: %w", o.ID, err)
		}
	}
	return nil
}

func (s *Store) load(ctx context.Context, q querier, id string) (*domain.Negotiation, error) {
	n := &domain.Negotiation{Messages: []domain.Message{}, CounterOffers: []domain.CounterOffer{}}
	var (
		req, status, state, trigger, cc, ca, ua string
		active                                  int
		target                                  sql.NullFloat64
	)
	err := q.QueryRowContext(ctx, "SELECT "+negotiationColumns+" FROM negotiations WHERE id = ?", id).Scan(
		&n.ID, &n.OfferID, &n.UserID, &req, &status, &n.FinalPrice,
		&active, &target, &state, &n.AgentMessage, &trigger, &n.AgentReplyCount,
		&n.EmailThreadID, &n.LastEmailMessageID, &n.EmailSubject, &cc, &ca, &ua, &n.Version)
	if err != nil {
		return nil, notFound(err)
	}
	n.Status = domain.Status(status)
	n.IsAgentActive = active != 0
	if target.Valid {
		v := target.Float64
		n.AgentTargetPricePerKm = &v
	}
	n.AgentState = domain.AgentState(state)
	n.AgentTrigger = domain.AgentTrigger(trigger)
	if err := parseJSON([]byte(req), &n.InitialRequest, "negotiations initial_request"); err != nil {
		return nil, err
	}
	if cc != "" && cc != "[]" {
		if err := parseJSON([]byte(cc), &n.EmailCcRecipients, "negotiations email_cc"); err != nil {
			return nil, err
		}
	}
	if n.CreatedAt, err = parseTime(ca, "negotiations"); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(ua, "negotiations"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT id, sender, content, timestamp, email_message_id FROM negotiation_messages WHERE negotiation_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("negotiation_messages: %w", err)
	}
	for rows.Next() {
		var m domain.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &ts, &m.EmailMessageID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if m.Timestamp, err = parseTime(ts, "negotiation_messages"); err != nil {
			_ = rows.Close()
			return nil, err
		}
		n.Messages = append(n.Messages, m)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("negotiation_messages iteration: %w", err)
	}

	rows, err = q.QueryContext(ctx, "SELECT id, price, proposed_by, timestamp, status, notes FROM counter_offers WHERE negotiation_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("counter_offers: %w", err)
	}
	for rows.Next() {
		var o domain.CounterOffer
		var ts, st string
		if err := rows.Scan(&o.ID, &o.Price, &o.ProposedBy, &ts, &st, &o.Notes); err != nil {
			_ = rows.Close()
			return nil, err
		}
		o.Status = domain.OfferStatus(st)
		if o.Timestamp, err = parseTime(ts, "counter_offers"); err != nil {
			_ = rows.Close()
			return nil, err
		}
		n.CounterOffers = append(n.CounterOffers, o)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counter_offers iteration: %w", err)
	}

	n.RecomputeProjections()
	return n, nil
}
