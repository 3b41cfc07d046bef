// Package repository opens the configured persistence backends.
package repository

import (
	"context"
	"fmt"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/policy"
	"github.com/loadline/negotiator/internal/queue/memqueue"
	"github.com/loadline/negotiator/internal/queue/redisqueue"
	"github.com/loadline/negotiator/internal/repository/sqlstore"
)

// Backends bundles the repositories and the task queue used by the app layer.
type Backends struct {
	Store *sqlstore.Store
	Queue app.TaskQueue

	closeQueue func() error
}

// Open opens the database from pol and the task queue its queue.backend names.
// Backend "sqlite" keeps tasks in the same database, whichever SQL driver it uses.
func Open(ctx context.Context, pol *policy.Policy) (*Backends, error) {
	store, err := sqlstore.New(pol.DatabaseDriver(), pol.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	b := &Backends{Store: store}

	qc := pol.Queue()
	switch qc.Backend {
	case "sqlite":
		b.Queue = store
	case "memory":
		b.Queue = memqueue.New()
	case "redis":
		rq, err := redisqueue.New(ctx, redisqueue.Options{
			Addr:     qc.RedisAddr,
			Password: qc.RedisPassword,
			DB:       qc.RedisDB,
			Prefix:   qc.RedisPrefix,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		b.Queue = rq
		b.closeQueue = rq.Close
	default:
		_ = store.Close()
		return nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
	}
	return b, nil
}

// Close closes the queue connection (if separate) and the database.
func (b *Backends) Close() error {
	if b.closeQueue != nil {
		_ = b.closeQueue()
	}
	return b.Store.Close()
}
