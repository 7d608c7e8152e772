package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
)

// Flavor selects how a session handles writes.
type Flavor int

const (
	// Tracked sessions queue writes until Flush and keep an identity map.
	Tracked Flavor = iota
	// Untracked sessions execute writes immediately and keep no state.
	Untracked
)

func (f Flavor) other() Flavor {
	if f == Untracked {
		return Tracked
	}
	return Untracked
}

func (f Flavor) String() string {
	if f == Untracked {
		return "untracked"
	}
	return "tracked"
}

// querier is satisfied by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type entityKey struct {
	table string
	id    string
}

func keyOf(m *Mapping, id any) entityKey {
	return entityKey{table: m.Table, id: fmt.Sprint(id)}
}

type entry struct {
	entity   Persistable
	snapshot []any // last state read from or written to storage; nil when new
	pending  bool  // an explicit write is queued
}

type writeOp int

const (
	opInsert writeOp = iota
	opUpdate
	opDelete
)

func (o writeOp) String() string {
	switch o {
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	default:
		return "insert"
	}
}

type action struct {
	op     writeOp
	entity Persistable
}

// Session is a unit of interaction with storage bound to one connection.
// A Session is not safe for concurrent use.
type Session struct {
	id     string
	flavor Flavor
	pc     *Context
	conn   *sql.Conn
	tx     *Transaction
	parent *Session // owner of conn and tx for a borrowed session
	refs   int
	closed bool

	entries map[entityKey]*entry
	order   []entityKey
	queue   []action
}

func newSession(pc *Context, conn *sql.Conn, flavor Flavor, id string) *Session {
	return &Session{
		id:      id,
		flavor:  flavor,
		pc:      pc,
		conn:    conn,
		entries: make(map[entityKey]*entry),
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Flavor returns the session flavor.
func (s *Session) Flavor() Flavor { return s.flavor }

// IsOpen reports whether the session can still be used.
func (s *Session) IsOpen() bool { return !s.closed }

// PersistenceContext returns the context the session was acquired from.
func (s *Session) PersistenceContext() *Context { return s.pc }

// Borrowed reports whether the session runs on the connection and
// transaction of an outer session of the other flavor.
func (s *Session) Borrowed() bool { return s.parent != nil }

// Transaction returns the active transaction, or nil. A borrowed session
// reports the transaction of its outer session.
func (s *Session) Transaction() *Transaction {
	if s.parent != nil {
		return s.parent.Transaction()
	}
	if s.tx != nil && s.tx.State() == TxActive {
		return s.tx
	}
	return nil
}

func (s *Session) log() *slog.Logger {
	return s.pc.logger.With("session_id", s.id)
}

func (s *Session) db() querier {
	if tx := s.Transaction(); tx != nil {
		return tx.tx
	}
	return s.conn
}

func (s *Session) check(op string) error {
	if s.closed {
		return Wrap(op, "", ErrSessionClosed)
	}
	return nil
}

// Exec runs a statement in the active transaction, or on the session
// connection when none is active.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.check("exec"); err != nil {
		return nil, err
	}
	res, err := s.db().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("exec", query, err)
	}
	return res, nil
}

// Query runs a query in the active transaction, or on the session
// connection when none is active. Callers close the returned rows.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.check("query"); err != nil {
		return nil, err
	}
	rows, err := s.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("query", query, err)
	}
	return rows, nil
}

// QueryRow runs a query expected to return at most one row.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db().QueryRowContext(ctx, query, args...)
}

// Save inserts a new entity. Tracked sessions queue the insert until Flush.
func (s *Session) Save(ctx context.Context, e Persistable) error {
	op := "save " + e.Mapping().Entity
	if err := s.check(op); err != nil {
		return err
	}
	state := e.State()
	if s.pc.interceptor.OnSave(ctx, e, state) {
		if err := e.SetState(state); err != nil {
			return Wrap(op, "", err)
		}
	}
	if s.flavor == Untracked {
		return s.insert(ctx, e)
	}

	m := e.Mapping()
	if id := state[m.IDIndex()]; !(m.Generated && isZeroID(id)) {
		if en, ok := s.entries[keyOf(m, id)]; ok && en.entity != e {
			return NewError(KindGeneral, op, fmt.Errorf("another %s with id %v is already tracked", m.Entity, id))
		}
		s.register(e, nil).pending = true
	}
	s.queue = append(s.queue, action{op: opInsert, entity: e})
	return nil
}

// Update writes an existing entity. Tracked sessions queue the update until Flush.
func (s *Session) Update(ctx context.Context, e Persistable) error {
	m := e.Mapping()
	op := "update " + m.Entity
	if err := s.check(op); err != nil {
		return err
	}
	if s.flavor == Untracked {
		state := e.State()
		if s.pc.interceptor.OnFlushDirty(ctx, e, state, nil) {
			if err := e.SetState(state); err != nil {
				return Wrap(op, "", err)
			}
		}
		return s.update(ctx, e, state)
	}

	id := IDOf(e)
	if isZeroID(id) {
		return NewError(KindGeneral, op, fmt.Errorf("%s has no identity", m.Entity))
	}
	en, ok := s.entries[keyOf(m, id)]
	switch {
	case !ok:
		en = s.register(e, nil)
	case en.entity != e:
		return NewError(KindGeneral, op, fmt.Errorf("another %s with id %v is already tracked", m.Entity, id))
	}
	if !en.pending {
		en.pending = true
		s.queue = append(s.queue, action{op: opUpdate, entity: e})
	}
	return nil
}

// Delete removes an entity. Tracked sessions queue the delete until Flush.
func (s *Session) Delete(ctx context.Context, e Persistable) error {
	m := e.Mapping()
	op := "delete " + m.Entity
	if err := s.check(op); err != nil {
		return err
	}
	s.pc.interceptor.OnDelete(ctx, e, e.State())
	if s.flavor == Untracked {
		return s.delete(ctx, e)
	}
	delete(s.entries, keyOf(m, IDOf(e)))
	s.queue = append(s.queue, action{op: opDelete, entity: e})
	return nil
}

// Flush executes queued writes in order, preceded by updates for loaded
// entities whose state changed. Untracked sessions have nothing to flush.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.check("flush"); err != nil {
		return err
	}
	if s.flavor == Untracked {
		return nil
	}

	managed := s.managed()
	s.pc.interceptor.PreFlush(ctx, managed)

	for _, key := range s.order {
		en := s.entries[key]
		if en == nil || en.pending || en.snapshot == nil {
			continue
		}
		if !reflect.DeepEqual(en.entity.State(), en.snapshot) {
			en.pending = true
			s.queue = append(s.queue, action{op: opUpdate, entity: en.entity})
		}
	}

	queue := s.queue
	s.queue = nil
	for _, a := range queue {
		if err := s.execute(ctx, a); err != nil {
			return err
		}
	}

	s.pc.metrics.flushes.WithLabelValues(s.flavor.String()).Inc()
	s.pc.interceptor.PostFlush(ctx, managed)
	if len(queue) > 0 {
		s.log().Debug("session flushed", "writes", len(queue))
	}
	return nil
}

func (s *Session) execute(ctx context.Context, a action) error {
	e := a.entity
	m := e.Mapping()
	switch a.op {
	case opInsert:
		if err := s.insert(ctx, e); err != nil {
			return err
		}
		s.register(e, e.State())
	case opUpdate:
		var previous []any
		en := s.entries[keyOf(m, IDOf(e))]
		if en != nil {
			previous = en.snapshot
		}
		state := e.State()
		if s.pc.interceptor.OnFlushDirty(ctx, e, state, previous) {
			if err := e.SetState(state); err != nil {
				return Wrap("update "+m.Entity, "", err)
			}
		}
		if err := s.update(ctx, e, state); err != nil {
			return err
		}
		if en != nil {
			en.snapshot = e.State()
			en.pending = false
		}
	case opDelete:
		return s.delete(ctx, e)
	}
	return nil
}

// Clear detaches every entity and discards unflushed writes.
func (s *Session) Clear() {
	if s.flavor == Untracked {
		return
	}
	s.entries = make(map[entityKey]*entry)
	s.order = nil
	s.queue = nil
}

// Len returns the number of entities in the identity map.
func (s *Session) Len() int {
	return len(s.entries)
}

// Pending returns the number of queued writes.
func (s *Session) Pending() int {
	return len(s.queue)
}

// Contains reports whether the entity is in the identity map.
func (s *Session) Contains(e Persistable) bool {
	en, ok := s.entries[keyOf(e.Mapping(), IDOf(e))]
	return ok && en.entity == e
}

func (s *Session) register(e Persistable, snapshot []any) *entry {
	key := keyOf(e.Mapping(), IDOf(e))
	if en, ok := s.entries[key]; ok {
		en.entity = e
		en.snapshot = snapshot
		en.pending = false
		return en
	}
	en := &entry{entity: e, snapshot: snapshot}
	s.entries[key] = en
	s.order = append(s.order, key)
	return en
}

func (s *Session) managed() []Persistable {
	out := make([]Persistable, 0, len(s.entries))
	for _, key := range s.order {
		if en := s.entries[key]; en != nil {
			out = append(out, en.entity)
		}
	}
	return out
}

// Get loads an entity by identity. Tracked sessions return the instance
// already in the identity map when there is one.
func (s *Session) Get(ctx context.Context, m *Mapping, id any) (Persistable, bool, error) {
	op := "get " + m.Entity
	if err := s.check(op); err != nil {
		return nil, false, err
	}
	if s.flavor == Tracked {
		if en, ok := s.entries[keyOf(m, id)]; ok {
			return en.entity, true, nil
		}
	}
	q := s.pc.compiler.SelectByKey(m.Table, m.Columns(), m.IDColumn())
	rows, err := s.Scroll(ctx, m, q, id)
	if err != nil {
		return nil, false, Wrap(op, q, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, Wrap(op, q, rows.Err())
	}
	return rows.Entity(), true, nil
}

// Scroll runs a query and hydrates each row into an entity of m. Result
// columns are matched to properties by column name; unknown columns are
// ignored. Callers close the returned Rows.
func (s *Session) Scroll(ctx context.Context, m *Mapping, query string, args ...any) (*Rows, error) {
	op := "scroll " + m.Entity
	if err := s.check(op); err != nil {
		return nil, err
	}
	rows, err := s.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap(op, query, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, Wrap(op, query, err)
	}
	index := make([]int, len(cols))
	for i, col := range cols {
		index[i] = m.IndexOfColumn(col)
	}
	return &Rows{ctx: ctx, s: s, m: m, rows: rows, index: index, query: query}, nil
}

func (s *Session) insert(ctx context.Context, e Persistable) error {
	m := e.Mapping()
	op := "insert " + m.Entity
	state := e.State()
	idIdx := m.IDIndex()
	generate := m.Generated && isZeroID(state[idIdx])

	var cols []string
	var args []any
	for i, p := range m.Properties {
		if i == idIdx && generate {
			continue
		}
		cols = append(cols, p.ColumnName())
		args = append(args, bindValue(p, state[i]))
	}

	if !generate {
		q := s.pc.compiler.Insert(m.Table, cols, "")
		if _, err := s.db().ExecContext(ctx, q, args...); err != nil {
			return Wrap(op, q, err)
		}
		s.pc.metrics.written.WithLabelValues(opInsert.String()).Inc()
		return nil
	}

	q := s.pc.compiler.Insert(m.Table, cols, m.IDColumn())
	var id int64
	if err := s.db().QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return Wrap(op, q, err)
	}
	v, err := ConvertValue(m.Properties[idIdx].Type, id)
	if err != nil {
		return NewError(KindCoercion, op, err)
	}
	state[idIdx] = v
	if err := e.SetState(state); err != nil {
		return Wrap(op, q, err)
	}
	s.pc.metrics.written.WithLabelValues(opInsert.String()).Inc()
	return nil
}

func (s *Session) update(ctx context.Context, e Persistable, state []any) error {
	m := e.Mapping()
	op := "update " + m.Entity
	idIdx := m.IDIndex()

	var cols []string
	var args []any
	for i, p := range m.Properties {
		if i == idIdx {
			continue
		}
		cols = append(cols, p.ColumnName())
		args = append(args, bindValue(p, state[i]))
	}
	if len(cols) == 0 {
		return nil
	}
	args = append(args, state[idIdx])

	q := s.pc.compiler.Update(m.Table, cols, m.IDColumn())
	res, err := s.db().ExecContext(ctx, q, args...)
	if err != nil {
		return Wrap(op, q, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &StoreError{Kind: KindNotFound, Op: op, Query: q, Err: fmt.Errorf("no %s with id %v", m.Entity, state[idIdx])}
	}
	s.pc.metrics.written.WithLabelValues(opUpdate.String()).Inc()
	return nil
}

func (s *Session) delete(ctx context.Context, e Persistable) error {
	m := e.Mapping()
	op := "delete " + m.Entity
	id := IDOf(e)
	q := s.pc.compiler.Delete(m.Table, m.IDColumn())
	res, err := s.db().ExecContext(ctx, q, id)
	if err != nil {
		return Wrap(op, q, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &StoreError{Kind: KindNotFound, Op: op, Query: q, Err: fmt.Errorf("no %s with id %v", m.Entity, id)}
	}
	s.pc.metrics.written.WithLabelValues(opDelete.String()).Inc()
	return nil
}

// Rows is a forward-only cursor over hydrated entities.
type Rows struct {
	ctx     context.Context
	s       *Session
	m       *Mapping
	rows    *sql.Rows
	index   []int
	query   string
	current Persistable
	count   int
	err     error
	closed  bool
}

// Next advances to the next entity.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.s.closed {
		r.err = Wrap("scroll "+r.m.Entity, r.query, ErrSessionClosed)
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = Wrap("scroll "+r.m.Entity, r.query, err)
		}
		return false
	}

	raw := make([]any, len(r.index))
	dest := make([]any, len(r.index))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		r.err = Wrap("scroll "+r.m.Entity, r.query, err)
		return false
	}

	e, err := r.s.hydrate(r.ctx, r.m, r.index, raw)
	if err != nil {
		r.err = Wrap("scroll "+r.m.Entity, r.query, err)
		return false
	}
	r.current = e
	r.count++
	return true
}

// Entity returns the entity at the current position.
func (r *Rows) Entity() Persistable { return r.current }

// Count returns the number of entities read so far.
func (r *Rows) Count() int { return r.count }

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error { return r.err }

// Close releases the underlying result set. Closing twice is a no-op.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rows.Close()
}

func (s *Session) hydrate(ctx context.Context, m *Mapping, index []int, raw []any) (Persistable, error) {
	state := make([]any, len(m.Properties))
	for ci, pi := range index {
		if pi < 0 {
			continue
		}
		v, err := ConvertValue(m.Properties[pi].Type, raw[ci])
		if err != nil {
			return nil, NewError(KindCoercion, "load "+m.Entity, fmt.Errorf("property %q: %w", m.Properties[pi].Name, err))
		}
		state[pi] = v
	}

	if s.flavor == Tracked {
		if en, ok := s.entries[keyOf(m, state[m.IDIndex()])]; ok {
			return en.entity, nil
		}
	}

	e := m.New()
	if err := e.SetState(state); err != nil {
		return nil, err
	}
	if s.pc.interceptor.OnLoad(ctx, e, state) {
		if err := e.SetState(state); err != nil {
			return nil, err
		}
	}
	if s.flavor == Tracked {
		s.register(e, e.State())
	}
	return e, nil
}
