// Package access is the caller-facing data access object. It composes the
// unit-of-work executor, batch writer, filter compiler, streaming reader
// and named query binding into one operation set keyed by entity mapping.
package access

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/persistkit/internal/batch"
	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/filter"
	"github.com/roach88/persistkit/internal/queryir"
	"github.com/roach88/persistkit/internal/querysql"
	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/stream"
	"github.com/roach88/persistkit/internal/uow"
)

// DAO runs persistence operations, each in its own unit of work unless the
// caller's context already carries one.
type DAO struct {
	exec    *uow.Executor
	writer  *batch.Writer
	rules   filter.Rules
	queries map[string]string
	every   int
	log     *slog.Logger
}

// Option configures a DAO.
type Option func(*DAO)

// WithRules replaces the coercion rules used for filters and parameters.
func WithRules(r filter.Rules) Option {
	return func(d *DAO) { d.rules = r }
}

// WithQueries registers named query texts.
func WithQueries(q map[string]string) Option {
	return func(d *DAO) {
		for name, text := range q {
			d.queries[name] = text
		}
	}
}

// WithBatchSize sets the number of entities between flush+clear cycles
// during bulk writes.
func WithBatchSize(n int) Option {
	return func(d *DAO) { d.writer = batch.New(d.exec, n) }
}

// WithScrollInterval sets the number of rows between flush+clear cycles
// during streaming reads.
func WithScrollInterval(n int) Option {
	return func(d *DAO) { d.every = n }
}

// New creates a DAO over exec.
func New(exec *uow.Executor, opts ...Option) *DAO {
	d := &DAO{
		exec:    exec,
		writer:  batch.New(exec, config.DefaultBatchSize),
		rules:   filter.DefaultRules(),
		queries: map[string]string{},
		every:   config.DefaultScrollClearInterval,
		log:     exec.PersistenceContext().Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Executor returns the unit-of-work executor behind the DAO.
func (d *DAO) Executor() *uow.Executor { return d.exec }

// Writer returns the batch writer behind the DAO.
func (d *DAO) Writer() *batch.Writer { return d.writer }

// SaveEntity inserts e.
func (d *DAO) SaveEntity(ctx context.Context, e store.Persistable) error {
	return d.exec.Run(ctx, uow.Operation{Description: "save " + e.Mapping().Entity}, func(ctx context.Context, s *store.Session) error {
		return s.Save(ctx, e)
	})
}

// SaveOrUpdate inserts e when no row carries its identity, and updates the
// row otherwise.
func (d *DAO) SaveOrUpdate(ctx context.Context, e store.Persistable) error {
	m := e.Mapping()
	return d.exec.Run(ctx, uow.Operation{Description: "save or update " + m.Entity}, func(ctx context.Context, s *store.Session) error {
		id := store.IDOf(e)
		if id == nil || id == int64(0) || id == int32(0) {
			return s.Save(ctx, e)
		}
		n, err := d.count(ctx, s, m, filter.Spec{m.ID: {id}}, filter.Exact())
		if err != nil {
			return err
		}
		if n > 0 {
			return s.Update(ctx, e)
		}
		return s.Save(ctx, e)
	})
}

// UpdateEntity writes the current state of e.
func (d *DAO) UpdateEntity(ctx context.Context, e store.Persistable) error {
	return d.exec.Run(ctx, uow.Operation{Description: "update " + e.Mapping().Entity}, func(ctx context.Context, s *store.Session) error {
		return s.Update(ctx, e)
	})
}

// DeleteEntity removes e.
func (d *DAO) DeleteEntity(ctx context.Context, e store.Persistable) error {
	return d.exec.Run(ctx, uow.Operation{Description: "delete " + e.Mapping().Entity}, func(ctx context.Context, s *store.Session) error {
		return s.Delete(ctx, e)
	})
}

// InsertBulk inserts entities through an untracked session.
func (d *DAO) InsertBulk(ctx context.Context, entities []store.Persistable) (batch.Result, error) {
	return d.writer.WriteAll(ctx, batch.OpInsert, entities, batch.Untracked(), batch.WithDescription("insert bulk"))
}

// SaveBulk inserts entities through a tracked session, flushing and
// clearing every batch.
func (d *DAO) SaveBulk(ctx context.Context, entities []store.Persistable) (batch.Result, error) {
	return d.writer.WriteAll(ctx, batch.OpInsert, entities, batch.WithDescription("save bulk"))
}

// UpdateBulk updates entities through a tracked session.
func (d *DAO) UpdateBulk(ctx context.Context, entities []store.Persistable) (batch.Result, error) {
	return d.writer.WriteAll(ctx, batch.OpUpdate, entities, batch.WithDescription("update bulk"))
}

// DeleteBulk deletes entities through an untracked session.
func (d *DAO) DeleteBulk(ctx context.Context, entities []store.Persistable) (batch.Result, error) {
	return d.writer.WriteAll(ctx, batch.OpDelete, entities, batch.Untracked(), batch.WithDescription("delete bulk"))
}

// ProcessAndSave runs fn in one untracked unit of work. fn returns the
// number of entities it wrote.
func (d *DAO) ProcessAndSave(ctx context.Context, fn func(ctx context.Context, s *store.Session) (int, error)) (int, error) {
	return d.writer.Process(ctx, fn)
}

// FetchEntity returns the first entity whose property equals value. The
// value is always compared, even when it is the filter sentinel.
func (d *DAO) FetchEntity(ctx context.Context, m *store.Mapping, property string, value any) (store.Persistable, bool, error) {
	return d.fetchFirst(ctx, m, filter.Spec{property: {value}}, filter.Exact())
}

// FetchOne returns the first entity matched by spec, in identity order.
func (d *DAO) FetchOne(ctx context.Context, m *store.Mapping, spec filter.Spec) (store.Persistable, bool, error) {
	return d.fetchFirst(ctx, m, spec)
}

func (d *DAO) fetchFirst(ctx context.Context, m *store.Mapping, spec filter.Spec, opts ...filter.Option) (store.Persistable, bool, error) {
	q, err := filter.Compile(m, spec, d.rules, append(opts, filter.WithLimit(1))...)
	if err != nil {
		return nil, false, err
	}
	return stream.First[store.Persistable](ctx, d.exec, m, q)
}

// FetchBulk returns every entity matched by spec. Zero matches yield an
// empty slice.
func (d *DAO) FetchBulk(ctx context.Context, m *store.Mapping, spec filter.Spec, opts ...filter.Option) ([]store.Persistable, error) {
	q, err := filter.Compile(m, spec, d.rules, opts...)
	if err != nil {
		return nil, err
	}
	return stream.ReadAll[store.Persistable](ctx, d.exec, m, q)
}

// Scan streams every entity matched by spec to fn, flushing and clearing
// the session at the configured interval.
func (d *DAO) Scan(ctx context.Context, m *store.Mapping, spec filter.Spec, fn func(store.Persistable) error, opts ...filter.Option) (int, error) {
	q, err := filter.Compile(m, spec, d.rules, opts...)
	if err != nil {
		return 0, err
	}
	return stream.Scan(ctx, d.exec, m, q, d.every, fn)
}

// MostRecent returns the matching entity with the highest identity.
func (d *DAO) MostRecent(ctx context.Context, m *store.Mapping, property string, value any) (store.Persistable, bool, error) {
	q, err := filter.Compile(m, filter.Spec{property: {value}}, d.rules, filter.Exact(), filter.WithOrder(m.ID, true), filter.WithLimit(1))
	if err != nil {
		return nil, false, err
	}
	return stream.First[store.Persistable](ctx, d.exec, m, q)
}

// FetchColumn returns one property of every matched entity.
func (d *DAO) FetchColumn(ctx context.Context, m *store.Mapping, spec filter.Spec, property string) ([]any, error) {
	q, err := filter.Compile(m, spec, d.rules, filter.WithProjection(property))
	if err != nil {
		return nil, err
	}
	return stream.Column[any](ctx, d.exec, m, q)
}

// Exists reports whether spec matches at least one entity.
func (d *DAO) Exists(ctx context.Context, m *store.Mapping, spec filter.Spec) (bool, error) {
	n, err := d.Count(ctx, m, spec)
	return n > 0, err
}

// Count returns the number of distinct entities matched by spec.
func (d *DAO) Count(ctx context.Context, m *store.Mapping, spec filter.Spec) (int64, error) {
	return uow.Do(ctx, d.exec, uow.Operation{Description: "count " + m.Entity, Untracked: true, ReadOnly: true}, func(ctx context.Context, s *store.Session) (int64, error) {
		return d.count(ctx, s, m, spec)
	})
}

// Sum adds up property over the distinct entities matched by spec. No
// matches sum to zero.
func (d *DAO) Sum(ctx context.Context, m *store.Mapping, spec filter.Spec, property string) (float64, error) {
	q, err := filter.Compile(m, spec, d.rules, filter.WithAggregate(queryir.Sum, property))
	if err != nil {
		return 0, err
	}
	return uow.Do(ctx, d.exec, uow.Operation{Description: "sum " + m.Entity + "." + property, Untracked: true, ReadOnly: true}, func(ctx context.Context, s *store.Session) (float64, error) {
		v, err := d.aggregate(ctx, s, q, store.TypeFloat)
		if err != nil || v == nil {
			return 0, err
		}
		return v.(float64), nil
	})
}

func (d *DAO) count(ctx context.Context, s *store.Session, m *store.Mapping, spec filter.Spec, opts ...filter.Option) (int64, error) {
	q, err := filter.Compile(m, spec, d.rules, append(opts, filter.WithAggregate(queryir.Count, ""))...)
	if err != nil {
		return 0, err
	}
	v, err := d.aggregate(ctx, s, q, store.TypeInt64)
	if err != nil || v == nil {
		return 0, err
	}
	return v.(int64), nil
}

func (d *DAO) aggregate(ctx context.Context, s *store.Session, q queryir.Select, t store.PropertyType) (any, error) {
	query, args, err := s.PersistenceContext().Compiler().Compile(q)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := s.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return nil, store.Wrap("aggregate", query, err)
	}
	v, err := store.ConvertValue(t, raw)
	if err != nil {
		return nil, store.NewError(store.KindCoercion, "aggregate", err)
	}
	return v, nil
}

// Query returns the text registered under name.
func (d *DAO) Query(name string) (string, bool) {
	text, ok := d.queries[name]
	return text, ok
}

// bind resolves a named query and binds its coerced parameters.
func (d *DAO) bind(op, name string, params map[string]any) (string, []any, error) {
	text, ok := d.queries[name]
	if !ok {
		return "", nil, store.NewError(store.KindGeneral, op, fmt.Errorf("unknown named query %q", name))
	}
	coerced, err := d.rules.CoerceParams(params)
	if err != nil {
		return "", nil, &store.StoreError{Kind: store.KindCoercion, Op: op, Query: text, Err: err}
	}
	query, args, err := querysql.BindNamed(d.exec.PersistenceContext().Dialect(), text, coerced)
	if err != nil {
		return "", nil, store.Wrap(op, text, err)
	}
	return query, args, nil
}

// FetchNamed runs the named query and hydrates its rows as entities of m.
func (d *DAO) FetchNamed(ctx context.Context, m *store.Mapping, name string, params map[string]any) ([]store.Persistable, error) {
	op := "fetch named " + name
	query, args, err := d.bind(op, name, params)
	if err != nil {
		return nil, err
	}
	return uow.Do(ctx, d.exec, uow.Operation{Description: op, Query: query, ReadOnly: true}, func(ctx context.Context, s *store.Session) ([]store.Persistable, error) {
		rows, err := s.Scroll(ctx, m, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := []store.Persistable{}
		for rows.Next() {
			out = append(out, rows.Entity())
		}
		return out, rows.Err()
	})
}

// ExecNamed runs the named statement and returns the number of affected
// rows.
func (d *DAO) ExecNamed(ctx context.Context, name string, params map[string]any) (int64, error) {
	op := "exec named " + name
	query, args, err := d.bind(op, name, params)
	if err != nil {
		return 0, err
	}
	return d.execute(ctx, op, query, args...)
}

// ExecuteUpdate runs a raw statement and returns the number of affected
// rows.
func (d *DAO) ExecuteUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	return d.execute(ctx, "execute update", query, args...)
}

func (d *DAO) execute(ctx context.Context, op, query string, args ...any) (int64, error) {
	return uow.Do(ctx, d.exec, uow.Operation{Description: op, Query: query, Untracked: true}, func(ctx context.Context, s *store.Session) (int64, error) {
		res, err := s.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res)
	})
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.NewError(store.KindEngine, "rows affected", err)
	}
	return n, nil
}
