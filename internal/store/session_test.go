package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedSession_QueuesWritesUntilFlush(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	u := newUser(m, "ada", "north")
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, 1, s.Pending())
	assert.Nil(t, u.ID(), "generated id is assigned on flush")

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, int64(1), u.ID())
	assert.True(t, s.Contains(u))
	assert.Equal(t, 1, countUsers(t, pc))
}

func TestTrackedSession_DetectsChangesToLoadedEntities(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()
	_, err := pc.DB().Exec(`INSERT INTO users (name, area) VALUES ('ada', 'north')`)
	require.NoError(t, err)

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	e, found, err := s.Get(ctx, m, int64(1))
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, e.(*Record).Set("area", "south"))
	require.NoError(t, tx.Commit(ctx))

	var area string
	require.NoError(t, pc.DB().QueryRow("SELECT area FROM users WHERE id = 1").Scan(&area))
	assert.Equal(t, "south", area)
}

func TestTrackedSession_IdentityMap(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()
	_, err := pc.DB().Exec(`INSERT INTO users (name) VALUES ('ada')`)
	require.NoError(t, err)

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	first, _, err := s.Get(ctx, m, int64(1))
	require.NoError(t, err)
	second, _, err := s.Get(ctx, m, 1)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	third, _, err := s.Get(ctx, m, int64(1))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestSession_GetMissing(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()

	s, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	e, found, err := s.Get(ctx, userMapping(), int64(42))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, e)
}

func TestUntrackedSession_WritesImmediately(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()

	s, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	u := newUser(m, "ada", "north")
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, int64(1), u.ID())
	assert.Equal(t, 1, countUsers(t, pc))
	assert.Equal(t, 0, s.Len(), "untracked sessions keep no identity map")

	require.NoError(t, u.Set("area", "east"))
	require.NoError(t, s.Update(ctx, u))
	var area string
	require.NoError(t, pc.DB().QueryRow("SELECT area FROM users WHERE id = 1").Scan(&area))
	assert.Equal(t, "east", area)

	require.NoError(t, s.Delete(ctx, u))
	assert.Equal(t, 0, countUsers(t, pc))
}

func TestSession_UpdateMissingRowIsNotFound(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()

	s, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	u := newUser(m, "ghost", "")
	require.NoError(t, u.Set("id", int64(999)))
	err = s.Update(ctx, u)
	assert.True(t, IsNotFound(err))

	err = s.Delete(ctx, u)
	assert.True(t, IsNotFound(err))
}

func TestSession_EngineErrorsAreClassified(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()

	s, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	_, err = s.Exec(ctx, "INSERT INTO missing_table VALUES (1)")
	require.Error(t, err)
	assert.True(t, IsEngineError(err))

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "INSERT INTO missing_table VALUES (1)", se.Query)
}

func TestScroll_ConvertsColumnTypes(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()
	m := userMapping()

	s, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	u := newUser(m, "ada", "north")
	require.NoError(t, u.Set("credit", 12.5))
	require.NoError(t, u.Set("active", true))
	require.NoError(t, u.Set("joined", time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)))
	require.NoError(t, s.Save(ctx, u))

	rows, err := s.Scroll(ctx, m, `SELECT * FROM users`)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	got := rows.Entity().(*Record)
	assert.Equal(t, int64(1), got.Get("id"))
	assert.Equal(t, "ada", got.Get("name"))
	assert.Equal(t, 12.5, got.Get("credit"))
	assert.Equal(t, true, got.Get("active"))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got.Get("joined"))
	assert.False(t, rows.Next())
	assert.NoError(t, rows.Err())
	assert.Equal(t, 1, rows.Count())
}

func TestTransaction_States(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	var none *Transaction
	assert.Equal(t, TxNotStarted, none.State())
	assert.Nil(t, s.Transaction())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, TxActive, tx.State())
	assert.Same(t, tx, s.Transaction())

	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, ErrTransactionActive)

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Commit(ctx), ErrTransactionDone)
	assert.ErrorIs(t, tx.Rollback(), ErrTransactionDone)

	tx2, err := s.Begin(ctx)
	require.NoError(t, err, "a finished transaction frees the session")
	require.NoError(t, tx2.Rollback())
	assert.Equal(t, TxRolledBack, tx2.State())
}

func TestTransaction_RollbackDiscardsQueuedWrites(t *testing.T) {
	pc := createTestContext(t)
	ctx := context.Background()

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	defer pc.Release(s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, newUser(userMapping(), "ada", "")))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, countUsers(t, pc))
}

type recordingInterceptor struct {
	NopInterceptor
	saves, dirty, deletes, loads, preFlush, postFlush int
}

func (r *recordingInterceptor) OnSave(_ context.Context, e Persistable, state []any) bool {
	r.saves++
	state[e.Mapping().Index("area")] = "stamped"
	return true
}

func (r *recordingInterceptor) OnFlushDirty(context.Context, Persistable, []any, []any) bool {
	r.dirty++
	return false
}

func (r *recordingInterceptor) OnDelete(context.Context, Persistable, []any) { r.deletes++ }

func (r *recordingInterceptor) OnLoad(context.Context, Persistable, []any) bool {
	r.loads++
	return false
}

func (r *recordingInterceptor) PreFlush(context.Context, []Persistable)  { r.preFlush++ }
func (r *recordingInterceptor) PostFlush(context.Context, []Persistable) { r.postFlush++ }

func TestInterceptor_HooksFireForBothFlavors(t *testing.T) {
	rec := &recordingInterceptor{}
	pc := createTestContext(t, WithInterceptor(rec))
	ctx := context.Background()
	m := userMapping()

	tracked, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	tx, err := tracked.Begin(ctx)
	require.NoError(t, err)
	u := newUser(m, "ada", "north")
	require.NoError(t, tracked.Save(ctx, u))
	require.NoError(t, tx.Commit(ctx))
	pc.Release(tracked)

	assert.Equal(t, "stamped", u.Get("area"))
	assert.Equal(t, 1, rec.saves)
	assert.Equal(t, 1, rec.preFlush)
	assert.Equal(t, 1, rec.postFlush)

	untracked, err := pc.AcquireUntrackedSession(ctx)
	require.NoError(t, err)
	defer pc.Release(untracked)

	loaded, found, err := untracked.Get(ctx, m, u.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "stamped", loaded.(*Record).Get("area"))
	assert.Equal(t, 1, rec.loads)

	require.NoError(t, untracked.Update(ctx, loaded))
	require.NoError(t, untracked.Delete(ctx, loaded))
	assert.Equal(t, 1, rec.dirty)
	assert.Equal(t, 1, rec.deletes)
	assert.Equal(t, 1, rec.preFlush, "untracked sessions never flush")
}

func TestMetrics_CountFlushesAndTransactions(t *testing.T) {
	reg := prometheus.NewRegistry()
	pc := createTestContext(t, WithRegistry(reg))
	ctx := context.Background()

	s, err := pc.AcquireSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.metrics.sessionsOpen.WithLabelValues("tracked")))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, newUser(userMapping(), "ada", "")))
	require.NoError(t, tx.Commit(ctx))
	pc.Release(s)

	assert.Equal(t, 0.0, testutil.ToFloat64(pc.metrics.sessionsOpen.WithLabelValues("tracked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.metrics.flushes.WithLabelValues("tracked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.metrics.transactions.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.metrics.written.WithLabelValues("insert")))

	// A second context on the same registry shares the collectors.
	other := createTestContext(t, WithRegistry(reg))
	assert.Same(t, pc.metrics.flushes, other.metrics.flushes)
}
