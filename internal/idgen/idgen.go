// Package idgen generates random numeric identifiers that do not collide
// with the values already stored in a column.
//
// Generation reads every existing value of the column, then draws random
// candidates until one is free. Fetch and draw run under a process-wide
// lock, and values handed out but not yet persisted are remembered so two
// callers in the same process never receive the same value. Nothing is
// reserved in storage: a value generated here can still collide with one
// chosen by another process before either is written.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/uow"
)

// DefaultMaxAttempts bounds the number of candidates drawn per call.
const DefaultMaxAttempts = 1 << 16

// ErrExhausted is returned when no free value was drawn within the attempt
// limit.
var ErrExhausted = errors.New("no free identifier found")

// issued holds values handed out but not yet seen in storage, per context
// and column. A context's entries are dropped when it closes.
var (
	mu     sync.Mutex
	issued = map[*store.Context]map[columnKey]map[int64]struct{}{}
)

type columnKey struct {
	table  string
	column string
}

// pendingFor returns the issued set for a column, creating it on first use.
// Callers hold mu.
func pendingFor(pc *store.Context, key columnKey) map[int64]struct{} {
	columns := issued[pc]
	if columns == nil {
		columns = map[columnKey]map[int64]struct{}{}
		issued[pc] = columns
		pc.OnClose(func() {
			mu.Lock()
			delete(issued, pc)
			mu.Unlock()
		})
	}
	pending := columns[key]
	if pending == nil {
		pending = map[int64]struct{}{}
		columns[key] = pending
	}
	return pending
}

// Generator draws identifiers for columns of one persistence context.
type Generator struct {
	exec        *uow.Executor
	source      func() int64
	maxAttempts int
	generated   *prometheus.CounterVec
}

// Option configures a Generator.
type Option func(*Generator)

// WithSource replaces the random source. Values below 1 are rejected as
// candidates.
func WithSource(fn func() int64) Option {
	return func(g *Generator) { g.source = fn }
}

// WithMaxAttempts sets the number of candidates drawn before giving up.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New creates a generator running its reads through exec.
func New(exec *uow.Executor, opts ...Option) *Generator {
	g := &Generator{
		exec:        exec,
		source:      func() int64 { return rand.Int64N(math.MaxInt64) + 1 },
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.generated = exec.PersistenceContext().RegisterCounter(prometheus.CounterOpts{
		Name: "persistkit_ids_generated_total",
		Help: "Identifiers handed out by the generator, by width.",
	}, "width")
	return g
}

// Int64 returns a positive 64-bit value absent from column of m's table.
func (g *Generator) Int64(ctx context.Context, m *store.Mapping, column string) (int64, error) {
	return g.generate(ctx, m, column, 64)
}

// Int32 returns a positive 32-bit value absent from column of m's table.
func (g *Generator) Int32(ctx context.Context, m *store.Mapping, column string) (int32, error) {
	v, err := g.generate(ctx, m, column, 32)
	return int32(v), err
}

func (g *Generator) generate(ctx context.Context, m *store.Mapping, column string, width int) (int64, error) {
	op := fmt.Sprintf("generate %d-bit id for %s.%s", width, m.Table, column)
	column = resolveColumn(m, column)

	mu.Lock()
	defer mu.Unlock()

	existing, err := g.snapshot(ctx, m, column, op)
	if err != nil {
		return 0, err
	}

	pending := pendingFor(g.exec.PersistenceContext(), columnKey{table: m.Table, column: column})
	// Issued values that reached storage are covered by the snapshot.
	for v := range pending {
		if _, ok := existing[v]; ok {
			delete(pending, v)
		}
	}

	for range g.maxAttempts {
		c := candidate(g.source(), width)
		if c < 1 {
			continue
		}
		if _, taken := existing[c]; taken {
			continue
		}
		if _, taken := pending[c]; taken {
			continue
		}
		pending[c] = struct{}{}
		g.generated.WithLabelValues(fmt.Sprint(width)).Inc()
		return c, nil
	}
	return 0, store.NewError(store.KindGeneral, op, ErrExhausted)
}

// snapshot reads every value currently stored in column.
func (g *Generator) snapshot(ctx context.Context, m *store.Mapping, column, op string) (map[int64]struct{}, error) {
	return uow.Do(ctx, g.exec, uow.Operation{Description: op, Untracked: true, ReadOnly: true}, func(ctx context.Context, s *store.Session) (map[int64]struct{}, error) {
		query := s.PersistenceContext().Compiler().SelectColumn(m.Table, column)
		rows, err := s.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := map[int64]struct{}{}
		for rows.Next() {
			var raw any
			if err := rows.Scan(&raw); err != nil {
				return nil, store.Wrap(op, query, err)
			}
			if raw == nil {
				continue
			}
			v, err := store.ConvertValue(store.TypeInt64, raw)
			if err != nil {
				return nil, store.NewError(store.KindCoercion, op, err)
			}
			out[v.(int64)] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return nil, store.Wrap(op, query, err)
		}
		return out, nil
	})
}

// candidate folds v into the positive range of the given width.
func candidate(v int64, width int) int64 {
	if width == 32 && v > math.MaxInt32 {
		return (v-1)%math.MaxInt32 + 1
	}
	return v
}

// resolveColumn accepts a property name or a column name.
func resolveColumn(m *store.Mapping, name string) string {
	if p, ok := m.Property(name); ok {
		return p.ColumnName()
	}
	return name
}
