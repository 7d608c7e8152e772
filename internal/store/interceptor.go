package store

import "context"

// Interceptor observes entity lifecycle events raised by sessions.
//
// State slices are in mapping order and may be modified in place; a hook
// that changes state returns true so the session writes the change back to
// the entity before persisting it. Hooks run for both session flavors.
type Interceptor interface {
	// OnSave runs before an entity is inserted.
	OnSave(ctx context.Context, entity Persistable, state []any) bool
	// OnFlushDirty runs before an entity is updated. previous is the last
	// state read from storage, or nil when the session never loaded it.
	OnFlushDirty(ctx context.Context, entity Persistable, current, previous []any) bool
	// OnDelete runs before an entity is deleted.
	OnDelete(ctx context.Context, entity Persistable, state []any)
	// OnLoad runs after an entity is hydrated from storage.
	OnLoad(ctx context.Context, entity Persistable, state []any) bool
	// PreFlush runs before a tracked session executes its queued writes.
	PreFlush(ctx context.Context, entities []Persistable)
	// PostFlush runs after a tracked session executed its queued writes.
	PostFlush(ctx context.Context, entities []Persistable)
}

// NopInterceptor implements Interceptor with no-ops. Embed it to override
// only some hooks.
type NopInterceptor struct{}

func (NopInterceptor) OnSave(context.Context, Persistable, []any) bool              { return false }
func (NopInterceptor) OnFlushDirty(context.Context, Persistable, []any, []any) bool { return false }
func (NopInterceptor) OnDelete(context.Context, Persistable, []any)                 {}
func (NopInterceptor) OnLoad(context.Context, Persistable, []any) bool              { return false }
func (NopInterceptor) PreFlush(context.Context, []Persistable)                      {}
func (NopInterceptor) PostFlush(context.Context, []Persistable)                     {}
