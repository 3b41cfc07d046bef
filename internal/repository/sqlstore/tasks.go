package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

// leaseRetries bounds how often Lease retries after losing a race for the same row.
const leaseRetries = 5

// Enqueue implements app.TaskQueue. Keys of acked tasks stay in the table, so a late
// duplicate is still ignored.
func (s *Store) Enqueue(ctx context.Context, t domain.Task) (bool, error) {
	if t.AvailableAt.IsZero() {
		t.AvailableAt = time.Now()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.AvailableAt
	}
	res, err := s.db.ExecContext(ctx, s.dialect.insertTask,
		t.ID, string(t.Kind), t.NegotiationID, t.MessageID, t.UserID, t.IdempotencyKey, t.Attempts,
		t.AvailableAt.UnixNano(), int64(0), t.LastError, formatTime(t.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lease implements app.TaskQueue. The claim is a conditional update, so two workers
// racing for one row cannot both win.
func (s *Store) Lease(ctx context.Context, now time.Time, lease time.Duration) (*domain.Task, error) {
	nowNs := now.UnixNano()
	for i := 0; i < leaseRetries; i++ {
		var id string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM tasks WHERE done = 0 AND available_at <= ? AND leased_until <= ? ORDER BY available_at, id LIMIT 1",
			nowNs, nowNs).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select due task: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			"UPDATE tasks SET attempts = attempts + 1, leased_until = ? WHERE id = ? AND done = 0 AND leased_until <= ?",
			now.Add(lease).UnixNano(), id, nowNs)
		if err != nil {
			return nil, fmt.Errorf("lease task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return s.getTask(ctx, id)
		}
	}
	return nil, nil
}

// Ack implements app.TaskQueue.
func (s *Store) Ack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE tasks SET done = 1, leased_until = 0 WHERE id = ?", id)
	return err
}

// Nack implements app.TaskQueue.
func (s *Store) Nack(ctx context.Context, id string, retryAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET available_at = ?, leased_until = 0, last_error = ? WHERE id = ? AND done = 0",
		retryAt.UnixNano(), lastErr, id)
	return err
}

// RequeueExpired implements app.TaskQueue.
func (s *Store) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET leased_until = 0 WHERE done = 0 AND leased_until > 0 AND leased_until <= ?", now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PendingTasks returns tasks not yet acked, oldest first.
func (s *Store) PendingTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE done = 0 ORDER BY available_at, id")
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) getTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*domain.Task, error) {
	var (
		t                   domain.Task
		kind, ca            string
		available, leasedNs int64
	)
	if err := sc.Scan(&t.ID, &kind, &t.NegotiationID, &t.MessageID, &t.UserID, &t.IdempotencyKey, &t.Attempts,
		&available, &leasedNs, &t.LastError, &ca); err != nil {
		return nil, err
	}
	t.Kind = domain.TaskKind(kind)
	t.AvailableAt = time.Unix(0, available)
	if leasedNs > 0 {
		t.LeasedUntil = time.Unix(0, leasedNs)
	}
	var err error
	if t.CreatedAt, err = parseTime(ca, "tasks"); err != nil {
		return nil, err
	}
	return &t, nil
}

func sortNotifications(ns []domain.Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
}
