package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite" // pure go sqlite driver, registers "sqlite"

	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/logging"
	"github.com/roach88/persistkit/internal/querysql"
)

var defaultPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Context is the process-wide persistence context. It owns the connection
// pool and hands out sessions.
//
// A Context is safe for concurrent use. Sessions are not.
type Context struct {
	cfg         config.Database
	dialect     querysql.Dialect
	compiler    *querysql.SQLCompiler
	interceptor Interceptor
	logger      *slog.Logger
	registry    prometheus.Registerer
	metrics     *metrics
	sqlOpen     func(driverName, dataSourceName string) (*sql.DB, error)

	mu      sync.Mutex
	db      *sql.DB
	onClose []func()
}

// Option configures a Context.
type Option func(*Context)

// WithInterceptor installs the interceptor attached to every session.
func WithInterceptor(i Interceptor) Option {
	return func(c *Context) { c.interceptor = i }
}

// WithRegistry registers the store metrics on reg instead of a private registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Context) { c.registry = reg }
}

// WithLogger sets the logger used for context and session events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithOpener swaps the function used to open the pool.
func WithOpener(fn func(driverName, dataSourceName string) (*sql.DB, error)) Option {
	return func(c *Context) { c.sqlOpen = fn }
}

// NewContext creates an unopened persistence context.
func NewContext(cfg config.Database, opts ...Option) *Context {
	if cfg.Driver == "" {
		cfg.Driver = config.DefaultDriver
	}
	c := &Context{
		cfg:         cfg,
		dialect:     querysql.DialectFor(cfg.Driver),
		interceptor: NopInterceptor{},
		logger:      slog.Default(),
		sqlOpen:     sql.Open,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
	}
	c.compiler = querysql.NewSQLCompiler(c.dialect)
	c.metrics = newMetrics(c.registry)
	return c
}

// Open connects the pool. Only the first call, or the first call after
// Close, does any work. A failure is logged and leaves the context closed;
// callers treat it as fatal.
func (c *Context) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	db, err := c.sqlOpen(c.cfg.Driver, c.cfg.DSN)
	if err != nil {
		c.logger.Error("failed to open persistence context", "driver", c.cfg.Driver, "error", err)
		return Wrap("open context", "", fmt.Errorf("open database: %w", err))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		c.logger.Error("failed to open persistence context", "driver", c.cfg.Driver, "error", err)
		return Wrap("open context", "", fmt.Errorf("connect to database: %w", err))
	}

	if c.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	}
	if c.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.cfg.MaxIdleConns)
	}

	c.db = db
	c.logger.Info("persistence context opened", "driver", c.cfg.Driver, "dialect", c.dialect.String())
	return nil
}

// Close closes the pool and runs the hooks registered with OnClose.
// Closing an unopened context is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.db == nil {
		c.mu.Unlock()
		return nil
	}
	err := c.db.Close()
	c.db = nil
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	c.logger.Info("persistence context closed")
	return Wrap("close context", "", err)
}

// OnClose registers fn to run once, after the next Close releases the pool.
// Hooks run without the context lock held.
func (c *Context) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// IsOpen reports whether the pool is connected.
func (c *Context) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// DB returns the underlying pool, or nil when closed.
// Use with caution - prefer sessions.
func (c *Context) DB() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Dialect returns the placeholder dialect of the configured driver.
func (c *Context) Dialect() querysql.Dialect { return c.dialect }

// Compiler returns the SQL compiler for the configured dialect.
func (c *Context) Compiler() *querysql.SQLCompiler { return c.compiler }

// Logger returns the context logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// AcquireSession returns a tracked session for the current execution.
func (c *Context) AcquireSession(ctx context.Context) (*Session, error) {
	return c.acquire(ctx, Tracked)
}

// AcquireUntrackedSession returns an untracked session for the current execution.
func (c *Context) AcquireUntrackedSession(ctx context.Context) (*Session, error) {
	return c.acquire(ctx, Untracked)
}

// acquire reuses an open session of the same flavor carried by ctx. When
// ctx instead carries a session of the other flavor with an active
// transaction, the new session borrows its connection and transaction.
// Otherwise a new session is opened on a dedicated connection.
func (c *Context) acquire(ctx context.Context, flavor Flavor) (*Session, error) {
	if s := SessionFromContext(ctx, flavor); s != nil && s.pc == c && s.IsOpen() {
		s.refs++
		return s, nil
	}
	if outer := SessionFromContext(ctx, flavor.other()); outer != nil && outer.pc == c && outer.IsOpen() && outer.Transaction() != nil {
		return c.borrow(ctx, outer, flavor)
	}

	db := c.DB()
	if db == nil {
		return nil, Wrap("acquire session", "", ErrContextClosed)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, Wrap("acquire session", "", err)
	}
	if err := c.applyPragmas(ctx, conn); err != nil {
		conn.Close()
		return nil, Wrap("acquire session", "", err)
	}

	s := newSession(c, conn, flavor, uuid.Must(uuid.NewV7()).String())
	c.metrics.sessionsOpen.WithLabelValues(flavor.String()).Inc()
	c.logger.Debug("session acquired", "session_id", s.id, "flavor", flavor.String())
	return s, nil
}

// borrow opens a session of flavor on outer's connection. Pending writes of
// a tracked outer session are flushed first so the new session sees them.
func (c *Context) borrow(ctx context.Context, outer *Session, flavor Flavor) (*Session, error) {
	if err := outer.Flush(ctx); err != nil {
		return nil, Wrap("acquire session", "", err)
	}
	s := newSession(c, outer.conn, flavor, uuid.Must(uuid.NewV7()).String())
	s.parent = outer
	c.logger.Debug("session borrowed", "session_id", s.id, "outer_session_id", outer.id, "flavor", flavor.String())
	return s, nil
}

// Release closes a session. A dangling active transaction is rolled back
// first. Failures are logged and swallowed. Releasing nil or an already
// released session is a no-op.
func (c *Context) Release(s *Session) {
	if s == nil || s.closed {
		return
	}
	if s.refs > 0 {
		s.refs--
		return
	}
	if s.parent != nil {
		s.entries = nil
		s.order = nil
		s.queue = nil
		s.closed = true
		c.logger.Debug("borrowed session released", "session_id", s.id, "flavor", s.flavor.String())
		return
	}

	if s.tx != nil && s.tx.State() == TxActive {
		if err := s.tx.Rollback(); err != nil {
			c.logger.Warn("rollback on release failed", "session_id", s.id, "error", err)
		}
	}
	s.entries = nil
	s.order = nil
	s.queue = nil
	s.closed = true
	if err := s.conn.Close(); err != nil {
		c.logger.Warn("session release failed", "session_id", s.id, "error", err)
	}
	c.metrics.sessionsOpen.WithLabelValues(s.flavor.String()).Dec()
	c.logger.Debug("session released", "session_id", s.id, "flavor", s.flavor.String())
}

// applyPragmas configures a fresh SQLite connection.
func (c *Context) applyPragmas(ctx context.Context, conn *sql.Conn) error {
	if c.dialect != querysql.SQLite {
		return nil
	}
	pragmas := c.cfg.Pragmas
	if len(pragmas) == 0 {
		pragmas = defaultPragmas
	}
	for _, pragma := range pragmas {
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(pragma)), "PRAGMA") {
			pragma = "PRAGMA " + pragma
		}
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

type sessionKey struct{ flavor Flavor }

// ContextWithSession binds s to ctx so that nested units of work in the same
// execution reuse it.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey{s.flavor}, s)
	return logging.ContextWithSessionID(ctx, s.id)
}

// SessionFromContext returns the session of the given flavor bound to ctx, or nil.
func SessionFromContext(ctx context.Context, flavor Flavor) *Session {
	s, _ := ctx.Value(sessionKey{flavor}).(*Session)
	return s
}
