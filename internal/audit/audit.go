// Package audit stamps creation and modification metadata on auditable
// entities as sessions save and update them.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/persistkit/internal/store"
)

// Property names the trail writes. Entities opt in to a field simply by
// mapping a property with that name; unmapped fields are skipped.
const (
	CreatedBy           = "createdBy"
	CreatedOn           = "createdOn"
	LastModifiedBy      = "lastModifiedBy"
	DateLastModified    = "dateLastModified"
	ModifiedByHistory   = "modifiedByHistory"
	DateModifiedHistory = "dateModifiedHistory"
)

// Trail is a store.Interceptor that records who created and last modified
// an entity, and optionally keeps a delimited modification history.
type Trail struct {
	history   bool
	delimiter string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Trail.
type Option func(*Trail)

// WithHistory enables appending to the history fields on update.
func WithHistory(enabled bool) Option {
	return func(t *Trail) { t.history = enabled }
}

// WithDelimiter sets the separator between history entries. An empty
// delimiter keeps the default.
func WithDelimiter(d string) Option {
	return func(t *Trail) {
		if d != "" {
			t.delimiter = d
		}
	}
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// New creates a trail with history disabled and "|" as delimiter.
func New(opts ...Option) *Trail {
	t := &Trail{
		delimiter: "|",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ store.Interceptor = (*Trail)(nil)

// OnSave sets CreatedBy and CreatedOn on auditable entities.
func (t *Trail) OnSave(ctx context.Context, e store.Persistable, state []any) bool {
	a, ok := e.(store.Auditable)
	if !ok {
		return false
	}
	m := e.Mapping()
	modified := setValue(m, state, CreatedBy, a.AuditUser())
	modified = setValue(m, state, CreatedOn, t.now()) || modified
	t.logger.DebugContext(ctx, "audit stamped create", "entity", m.Entity, "user", a.AuditUser())
	return modified
}

// OnFlushDirty sets LastModifiedBy and DateLastModified on auditable
// entities. When history is enabled the acting user is appended to both
// ModifiedByHistory and DateModifiedHistory.
func (t *Trail) OnFlushDirty(ctx context.Context, e store.Persistable, current, _ []any) bool {
	a, ok := e.(store.Auditable)
	if !ok {
		return false
	}
	m := e.Mapping()
	user := a.AuditUser()
	now := t.now()

	modified := setValue(m, current, LastModifiedBy, user)
	modified = setValue(m, current, DateLastModified, now) || modified
	if t.history {
		modified = t.appendValue(m, current, ModifiedByHistory, user) || modified
		modified = t.appendValue(m, current, DateModifiedHistory, user) || modified
	}
	t.logger.DebugContext(ctx, "audit stamped update", "entity", m.Entity, "user", user)
	return modified
}

func (t *Trail) OnDelete(ctx context.Context, e store.Persistable, _ []any) {
	t.logger.DebugContext(ctx, "delete event", "entity", e.Mapping().Entity, "id", store.IDOf(e))
}

func (t *Trail) OnLoad(ctx context.Context, e store.Persistable, _ []any) bool {
	t.logger.DebugContext(ctx, "load event", "entity", e.Mapping().Entity)
	return false
}

func (t *Trail) PreFlush(ctx context.Context, entities []store.Persistable) {
	t.logger.DebugContext(ctx, "pre flush", "entities", len(entities))
}

func (t *Trail) PostFlush(ctx context.Context, entities []store.Persistable) {
	t.logger.DebugContext(ctx, "post flush", "entities", len(entities))
}

// setValue overwrites the named property. Returns false when the entity
// does not map it.
func setValue(m *store.Mapping, state []any, name string, v any) bool {
	i := m.Index(name)
	if i < 0 {
		return false
	}
	state[i] = v
	return true
}

// appendValue appends v to the delimited log held by the named property.
func (t *Trail) appendValue(m *store.Mapping, state []any, name, v string) bool {
	i := m.Index(name)
	if i < 0 {
		return false
	}
	prev, _ := state[i].(string)
	if prev == "" {
		state[i] = v
	} else {
		state[i] = prev + t.delimiter + v
	}
	return true
}
