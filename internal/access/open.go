package access

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/persistkit/internal/audit"
	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/uow"
)

// Layer is an opened persistence context with the DAO and the entity
// mappings declared in configuration.
type Layer struct {
	*DAO
	Context  *store.Context
	mappings map[string]*store.Mapping
}

// Open builds the persistence layer described by cfg and opens its
// context. The audit interceptor is installed unless disabled. Callers
// Close the layer when done.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...store.Option) (*Layer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mappings := make(map[string]*store.Mapping, len(cfg.Entities))
	for _, e := range cfg.Entities {
		m, err := store.MappingFromConfig(e)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		mappings[e.Name] = m
	}

	base := []store.Option{store.WithLogger(logger)}
	if cfg.Audit.AuditEnabled() {
		trail := audit.New(
			audit.WithHistory(cfg.Audit.History),
			audit.WithDelimiter(cfg.Audit.Delimiter),
			audit.WithLogger(logger),
		)
		base = append(base, store.WithInterceptor(trail))
	}
	pc := store.NewContext(cfg.Database, append(base, opts...)...)
	if err := pc.Open(ctx); err != nil {
		return nil, err
	}

	dao := New(uow.New(pc),
		WithQueries(cfg.Queries),
		WithBatchSize(cfg.Batch.Size),
		WithScrollInterval(cfg.Batch.ScrollClearInterval),
	)
	return &Layer{DAO: dao, Context: pc, mappings: mappings}, nil
}

// Mapping returns the entity mapping declared under name.
func (l *Layer) Mapping(name string) (*store.Mapping, error) {
	m, ok := l.mappings[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q (declared: %v)", name, l.Entities())
	}
	return m, nil
}

// Entities lists the declared entity names in sorted order.
func (l *Layer) Entities() []string {
	names := make([]string, 0, len(l.mappings))
	for name := range l.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes the persistence context.
func (l *Layer) Close() error {
	return l.Context.Close()
}
