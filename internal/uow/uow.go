// Package uow runs caller work inside a transactional unit of work.
//
// Every unit acquires a session, begins a transaction, runs the work,
// commits, and releases the session. On any failure or panic the
// transaction is rolled back and the session released before the error is
// returned, so no session or connection outlives its unit.
//
// Units nest: work that starts another unit with the context it was handed
// joins the outer session and transaction instead of opening its own. A
// nested unit of the other flavor gets a session borrowed from the outer
// one, sharing its connection and transaction; only the outermost unit
// commits or rolls back.
package uow

import (
	"context"

	"github.com/roach88/persistkit/internal/logging"
	"github.com/roach88/persistkit/internal/store"
)

// Operation describes a unit of work for error reporting and session choice.
type Operation struct {
	// Description names the operation in errors and logs, e.g. "save entity".
	Description string

	// Query is the query text or name involved, if any.
	Query string

	// Untracked runs the work on an untracked session.
	Untracked bool

	// ReadOnly discards tracked changes instead of flushing them at commit.
	ReadOnly bool
}

// Executor runs units of work against one persistence context.
type Executor struct {
	pc *store.Context
}

// New creates an executor for pc.
func New(pc *store.Context) *Executor {
	return &Executor{pc: pc}
}

// PersistenceContext returns the context units are run against.
func (e *Executor) PersistenceContext() *store.Context {
	return e.pc
}

// Run executes fn inside a unit of work. Errors are returned as
// *store.StoreError tagged with the operation; errors that already are
// store errors keep their kind. A panic in fn is re-raised after cleanup.
func (e *Executor) Run(ctx context.Context, op Operation, fn func(ctx context.Context, s *store.Session) error) (err error) {
	acquire := e.pc.AcquireSession
	if op.Untracked {
		acquire = e.pc.AcquireUntrackedSession
	}

	s, err := acquire(ctx)
	if err != nil {
		return store.Wrap(op.Description, op.Query, err)
	}
	defer e.pc.Release(s)

	flavor := store.Tracked
	if op.Untracked {
		flavor = store.Untracked
	}
	joined := store.SessionFromContext(ctx, flavor) == s

	ctx = store.ContextWithSession(ctx, s)
	log := logging.FromContext(ctx)

	// A session joined or borrowed from an outer unit keeps the outer transaction.
	var tx *store.Transaction
	if s.Transaction() == nil {
		tx, err = s.Begin(ctx)
		if err != nil {
			return store.Wrap(op.Description, op.Query, err)
		}
	}

	committed := false
	defer func() {
		if tx == nil || committed || tx.State() != store.TxActive {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn("rollback failed", "op", op.Description, "error", rbErr)
		}
	}()

	if err := fn(ctx, s); err != nil {
		log.Debug("unit of work failed", "op", op.Description, "error", err)
		return store.Wrap(op.Description, op.Query, err)
	}

	if tx == nil {
		if joined {
			return nil
		}
		// Borrowed sessions write their changes into the outer transaction.
		if op.ReadOnly {
			s.Clear()
			return nil
		}
		if err := s.Flush(ctx); err != nil {
			return store.Wrap(op.Description, op.Query, err)
		}
		return nil
	}
	if op.ReadOnly {
		s.Clear()
	}
	if err := tx.Commit(ctx); err != nil {
		log.Debug("commit failed", "op", op.Description, "error", err)
		return store.Wrap(op.Description, op.Query, err)
	}
	committed = true
	return nil
}

// Do runs fn inside a unit of work and returns its result. The zero value
// is returned with any error.
func Do[T any](ctx context.Context, e *Executor, op Operation, fn func(ctx context.Context, s *store.Session) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, op, func(ctx context.Context, s *store.Session) error {
		v, err := fn(ctx, s)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
