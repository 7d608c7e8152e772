// Package stream reads query results through forward-only cursors instead
// of materializing them.
//
// A tracked session is flushed and cleared every K rows during a scan so
// that a long read does not grow the identity map without bound. A cursor
// never outlives the unit of work it was opened in.
package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/queryir"
	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/uow"
)

// Cursor is a forward-only iterator over entities of type T.
type Cursor[T store.Persistable] struct {
	s       *store.Session
	rows    *store.Rows
	every   int
	current T
	count   int
	err     error
}

// Open runs q on s and returns a cursor over its rows. every is the number
// of rows between flush+clear cycles on tracked sessions; zero or less
// uses config.DefaultScrollClearInterval.
func Open[T store.Persistable](ctx context.Context, s *store.Session, m *store.Mapping, q queryir.Select, every int) (*Cursor[T], error) {
	if every <= 0 {
		every = config.DefaultScrollClearInterval
	}
	sql, args, err := s.PersistenceContext().Compiler().Compile(q)
	if err != nil {
		return nil, store.Wrap("scroll "+m.Entity, "", err)
	}
	rows, err := s.Scroll(ctx, m, sql, args...)
	if err != nil {
		return nil, err
	}
	return &Cursor[T]{s: s, rows: rows, every: every}, nil
}

// Next advances the cursor. It returns false when the rows are exhausted
// or an error occurred; check Err afterwards. On a tracked session every
// K-th call flushes and clears the entities read so far before advancing,
// so changes made to them are written.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.count > 0 && c.count%c.every == 0 && c.s.Flavor() == store.Tracked {
		if err := c.s.Flush(ctx); err != nil {
			c.err = err
			return false
		}
		c.s.Clear()
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	e, ok := c.rows.Entity().(T)
	if !ok {
		c.err = store.NewError(store.KindGeneral, "scroll",
			fmt.Errorf("entity %T is not %T", c.rows.Entity(), c.current))
		return false
	}
	c.current = e
	c.count++
	return true
}

// Entity returns the current entity.
func (c *Cursor[T]) Entity() T { return c.current }

// Count returns the number of entities read so far.
func (c *Cursor[T]) Count() int { return c.count }

// Err returns the error that ended iteration, if any.
func (c *Cursor[T]) Err() error { return c.err }

// Close releases the result set.
func (c *Cursor[T]) Close() error { return c.rows.Close() }

// All yields the remaining entities. Iteration stops at the first error,
// which is then available from Err.
func (c *Cursor[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for c.Next(ctx) {
			if !yield(c.Entity()) {
				return
			}
		}
	}
}

// Scan runs q in its own unit of work and calls fn for every entity.
// It returns the number of entities read. An error from fn stops the scan
// and rolls back the unit.
func Scan[T store.Persistable](ctx context.Context, exec *uow.Executor, m *store.Mapping, q queryir.Select, every int, fn func(T) error) (int, error) {
	return uow.Do(ctx, exec, uow.Operation{Description: "scan " + m.Entity, Query: q.From}, func(ctx context.Context, s *store.Session) (int, error) {
		c, err := Open[T](ctx, s, m, q, every)
		if err != nil {
			return 0, err
		}
		defer c.Close()

		for c.Next(ctx) {
			if err := fn(c.Entity()); err != nil {
				return c.Count(), err
			}
		}
		return c.Count(), c.Err()
	})
}

// ReadAll collects every entity matched by q. Zero matches yield an empty,
// non-nil slice.
func ReadAll[T store.Persistable](ctx context.Context, exec *uow.Executor, m *store.Mapping, q queryir.Select) ([]T, error) {
	out := []T{}
	_, err := Scan(ctx, exec, m, q, 0, func(e T) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first entity matched by q.
func First[T store.Persistable](ctx context.Context, exec *uow.Executor, m *store.Mapping, q queryir.Select) (T, bool, error) {
	q.Limit = 1
	all, err := ReadAll[T](ctx, exec, m, q)
	if err != nil || len(all) == 0 {
		var zero T
		return zero, false, err
	}
	return all[0], true, nil
}

// Column reads the single projected column of q, converted to the type of
// the mapped property and asserted to V.
func Column[V any](ctx context.Context, exec *uow.Executor, m *store.Mapping, q queryir.Select) ([]V, error) {
	op := "fetch column " + m.Entity
	if len(q.Columns) != 1 {
		return nil, store.NewError(store.KindGeneral, op, fmt.Errorf("want one projected column, got %d", len(q.Columns)))
	}
	return uow.Do(ctx, exec, uow.Operation{Description: op, Untracked: true}, func(ctx context.Context, s *store.Session) ([]V, error) {
		sql, args, err := s.PersistenceContext().Compiler().Compile(q)
		if err != nil {
			return nil, err
		}
		prop := propertyFor(m, q.Columns[0])

		rows, err := s.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := []V{}
		for rows.Next() {
			var raw any
			if err := rows.Scan(&raw); err != nil {
				return nil, store.Wrap(op, sql, err)
			}
			v, err := store.ConvertValue(prop.Type, raw)
			if err != nil {
				return nil, store.NewError(store.KindCoercion, op, err)
			}
			typed, ok := v.(V)
			if !ok && v != nil {
				var zero V
				return nil, store.NewError(store.KindCoercion, op, fmt.Errorf("column value %T is not %T", v, zero))
			}
			out = append(out, typed)
		}
		if err := rows.Err(); err != nil {
			return nil, store.Wrap(op, sql, err)
		}
		return out, nil
	})
}

// propertyFor finds the property behind a qualified column reference.
// Unknown columns are read as text.
func propertyFor(m *store.Mapping, qualified string) store.Property {
	col := qualified
	for i := len(qualified) - 1; i >= 0; i-- {
		if qualified[i] == '.' {
			col = qualified[i+1:]
			break
		}
	}
	if i := m.IndexOfColumn(col); i >= 0 {
		return m.Properties[i]
	}
	return store.Property{Name: col, Type: store.TypeText}
}
