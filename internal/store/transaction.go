package store

import (
	"context"
	"database/sql"
	"errors"
)

// TxState is the lifecycle state of a transaction.
type TxState int

const (
	TxNotStarted TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "not started"
	}
}

// Transaction is a session's atomic scope. Committed and rolled back
// transactions cannot be reused.
type Transaction struct {
	s     *Session
	tx    *sql.Tx
	state TxState
}

// Begin starts a transaction on the session connection. At most one
// transaction per session is active at a time.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.check("begin transaction"); err != nil {
		return nil, err
	}
	if s.Transaction() != nil || s.parent != nil {
		return nil, Wrap("begin transaction", "", ErrTransactionActive)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, Wrap("begin transaction", "", err)
	}
	s.tx = &Transaction{s: s, tx: tx, state: TxActive}
	return s.tx, nil
}

// State returns the transaction state.
func (t *Transaction) State() TxState {
	if t == nil {
		return TxNotStarted
	}
	return t.state
}

// Commit flushes a tracked session and commits. A failed flush or commit
// rolls the transaction back.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != TxActive {
		return Wrap("commit", "", ErrTransactionDone)
	}

	if err := t.s.Flush(ctx); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			t.s.log().Warn("rollback after failed flush", "error", rbErr)
		}
		return err
	}

	if err := t.tx.Commit(); err != nil {
		t.state = TxRolledBack
		t.s.queue = nil
		t.s.pc.metrics.transactions.WithLabelValues("failed").Inc()
		return Wrap("commit", "", err)
	}
	t.state = TxCommitted
	t.s.pc.metrics.transactions.WithLabelValues("committed").Inc()
	return nil
}

// Rollback aborts the transaction and discards queued writes.
// Rolling back a finished transaction returns ErrTransactionDone.
func (t *Transaction) Rollback() error {
	if t.state != TxActive {
		return Wrap("rollback", "", ErrTransactionDone)
	}
	t.state = TxRolledBack
	t.s.queue = nil
	t.s.pc.metrics.transactions.WithLabelValues("rolled_back").Inc()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return Wrap("rollback", "", err)
	}
	return nil
}
