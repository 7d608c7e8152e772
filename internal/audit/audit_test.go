package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/testutil"
	"github.com/roach88/persistkit/internal/uow"
)

func TestOnSave_StampsAuditableEntities(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	trail := New(WithClock(clock.Now))
	m := testutil.AdvertMapping()

	advert := testutil.NewAdvert(m, "spring sale", "ACTIVE", 1)
	advert.SetAuditUser("ada")
	state := advert.State()

	assert.True(t, trail.OnSave(context.Background(), advert, state))
	assert.Equal(t, "ada", state[m.Index(CreatedBy)])
	assert.Equal(t, testutil.Epoch, state[m.Index(CreatedOn)])
}

// anonymous carries audit columns but no acting user.
type anonymous struct {
	m      *store.Mapping
	values []any
}

func (a *anonymous) Mapping() *store.Mapping { return a.m }
func (a *anonymous) State() []any            { return append([]any(nil), a.values...) }
func (a *anonymous) SetState(s []any) error  { a.values = append([]any(nil), s...); return nil }

func TestOnSave_IgnoresNonAuditableEntities(t *testing.T) {
	trail := New()
	m := testutil.AdvertMapping()
	e := &anonymous{m: m, values: make([]any, len(m.Properties))}

	state := e.State()
	assert.False(t, trail.OnSave(context.Background(), e, state))
	assert.Nil(t, state[m.Index(CreatedBy)])
}

func TestOnSave_MissingPropertiesAreNoOps(t *testing.T) {
	trail := New()
	m := testutil.ScreenMapping()
	screen := testutil.NewScreen(m, 1, "lobby")
	screen.SetAuditUser("ada")

	state := screen.State()
	assert.False(t, trail.OnSave(context.Background(), screen, state))
	assert.Equal(t, screen.State(), state)
}

func TestOnFlushDirty_History(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	m := testutil.AdvertMapping()
	advert := testutil.NewAdvert(m, "spring sale", "ACTIVE", 1)

	t.Run("disabled", func(t *testing.T) {
		trail := New(WithClock(clock.Now))
		advert.SetAuditUser("bob")
		state := advert.State()

		assert.True(t, trail.OnFlushDirty(context.Background(), advert, state, nil))
		assert.Equal(t, "bob", state[m.Index(LastModifiedBy)])
		assert.IsType(t, time.Time{}, state[m.Index(DateLastModified)])
		assert.Nil(t, state[m.Index(ModifiedByHistory)])
	})

	t.Run("enabled appends", func(t *testing.T) {
		clock.Reset()
		trail := New(WithClock(clock.Now), WithHistory(true), WithDelimiter(";"))
		state := advert.State()

		advert.SetAuditUser("bob")
		trail.OnFlushDirty(context.Background(), advert, state, nil)
		advert.SetAuditUser("cy")
		trail.OnFlushDirty(context.Background(), advert, state, nil)

		assert.Equal(t, "bob;cy", state[m.Index(ModifiedByHistory)])
		assert.Equal(t, "bob;cy", state[m.Index(DateModifiedHistory)])
		assert.Equal(t, "cy", state[m.Index(LastModifiedBy)])
	})
}

func TestTrail_ThroughSessions(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	trail := New(WithClock(clock.Now), WithHistory(true))
	pc := testutil.OpenContext(t, store.WithInterceptor(trail))
	exec := uow.New(pc)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	advert := testutil.NewAdvert(m, "spring sale", "ACTIVE", 1)
	advert.SetAuditUser("ada")
	require.NoError(t, exec.Run(ctx, uow.Operation{Description: "save advert"}, func(ctx context.Context, s *store.Session) error {
		return s.Save(ctx, advert)
	}))

	require.NoError(t, exec.Run(ctx, uow.Operation{Description: "rename advert"}, func(ctx context.Context, s *store.Session) error {
		e, _, err := s.Get(ctx, m, advert.ID())
		if err != nil {
			return err
		}
		r := e.(*store.Record)
		r.SetAuditUser("bob")
		return r.Set("title", "summer sale")
	}))

	got, err := uow.Do(ctx, exec, uow.Operation{Description: "load advert", Untracked: true}, func(ctx context.Context, s *store.Session) (*store.Record, error) {
		e, _, err := s.Get(ctx, m, advert.ID())
		if err != nil {
			return nil, err
		}
		return e.(*store.Record), nil
	})
	require.NoError(t, err)

	assert.Equal(t, "summer sale", got.Get("title"))
	assert.Equal(t, "ada", got.Get(CreatedBy))
	assert.True(t, testutil.Epoch.Equal(got.Get(CreatedOn).(time.Time)))
	assert.Equal(t, "bob", got.Get(LastModifiedBy))
	assert.True(t, testutil.Epoch.Add(time.Second).Equal(got.Get(DateLastModified).(time.Time)))
	assert.Equal(t, "bob", got.Get(ModifiedByHistory))
	assert.Equal(t, "bob", got.Get(DateModifiedHistory))
}
