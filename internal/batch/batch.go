// Package batch writes large sets of entities inside one transaction while
// bounding the memory held by the session.
//
// After every Size entities the session is flushed and, for tracked
// sessions, cleared; a final cycle covers any remainder. Writing N entities
// therefore costs ceil(N/Size) flush cycles. Any failure rolls back the
// whole batch.
package batch

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/logging"
	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/uow"
)

// Op is the write applied to every entity of a batch.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "insert"
	}
}

// ParseOp resolves an operation name.
func ParseOp(name string) (Op, error) {
	for _, op := range []Op{OpInsert, OpUpdate, OpDelete} {
		if op.String() == name {
			return op, nil
		}
	}
	return OpInsert, fmt.Errorf("unknown batch operation %q", name)
}

// Result summarizes a committed batch.
type Result struct {
	Processed int
	Flushes   int
}

type options struct {
	untracked   bool
	description string
}

// Option configures one Write call.
type Option func(*options)

// Untracked runs the batch on an untracked session: writes execute
// immediately and there is no identity map to clear.
func Untracked() Option {
	return func(o *options) { o.untracked = true }
}

// WithDescription overrides the operation description used in errors.
func WithDescription(d string) Option {
	return func(o *options) { o.description = d }
}

// Writer applies batches through a unit-of-work executor.
type Writer struct {
	exec *uow.Executor
	size int
}

// New creates a writer flushing every size entities. A non-positive size
// uses config.DefaultBatchSize.
func New(exec *uow.Executor, size int) *Writer {
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	return &Writer{exec: exec, size: size}
}

// Size returns the number of entities per flush cycle.
func (w *Writer) Size() int { return w.size }

// Write applies op to every entity yielded by entities in one transaction.
// On failure nothing is persisted and the zero Result is returned.
func (w *Writer) Write(ctx context.Context, op Op, entities iter.Seq[store.Persistable], opts ...Option) (Result, error) {
	o := options{description: op.String() + " batch"}
	for _, opt := range opts {
		opt(&o)
	}

	var res Result
	err := w.exec.Run(ctx, uow.Operation{Description: o.description, Untracked: o.untracked}, func(ctx context.Context, s *store.Session) error {
		for e := range entities {
			if err := apply(ctx, s, op, e); err != nil {
				return err
			}
			res.Processed++
			if res.Processed%w.size == 0 {
				if err := w.cycle(ctx, s); err != nil {
					return err
				}
				res.Flushes++
			}
		}
		if res.Processed%w.size != 0 {
			if err := w.cycle(ctx, s); err != nil {
				return err
			}
			res.Flushes++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	logging.FromContext(ctx).Debug("batch written", "op", op.String(), "processed", res.Processed, "flushes", res.Flushes)
	return res, nil
}

// WriteAll is Write over a slice.
func (w *Writer) WriteAll(ctx context.Context, op Op, entities []store.Persistable, opts ...Option) (Result, error) {
	return w.Write(ctx, op, slices.Values(entities), opts...)
}

// Process runs fn on an untracked session inside one transaction and
// returns the number of records fn reports as processed.
func (w *Writer) Process(ctx context.Context, fn func(ctx context.Context, s *store.Session) (int, error)) (int, error) {
	return uow.Do(ctx, w.exec, uow.Operation{Description: "process and save", Untracked: true}, fn)
}

// cycle flushes pending writes and drops the identity map.
func (w *Writer) cycle(ctx context.Context, s *store.Session) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.Flavor() == store.Tracked {
		s.Clear()
	}
	return nil
}

func apply(ctx context.Context, s *store.Session, op Op, e store.Persistable) error {
	switch op {
	case OpUpdate:
		return s.Update(ctx, e)
	case OpDelete:
		return s.Delete(ctx, e)
	default:
		return s.Save(ctx, e)
	}
}

// Seq adapts a slice of concrete entities for Write.
func Seq[T store.Persistable](entities []T) iter.Seq[store.Persistable] {
	return func(yield func(store.Persistable) bool) {
		for _, e := range entities {
			if !yield(e) {
				return
			}
		}
	}
}
