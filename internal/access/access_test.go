package access

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/filter"
	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/testutil"
	"github.com/roach88/persistkit/internal/uow"
)

var statuses = []string{"ACTIVE", "PAUSED", "ENDED", "ENDED", "ENDED"}

func createTestDAO(t *testing.T, opts ...Option) (*DAO, *store.Context) {
	t.Helper()
	pc := testutil.OpenContext(t)
	return New(uow.New(pc), opts...), pc
}

// seedAdverts inserts n adverts; id i has status statuses[i%5], campaign
// id i%3 and amount i.
func seedAdverts(t *testing.T, pc *store.Context, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		testutil.MustExec(t, pc,
			"INSERT INTO adverts (id, campaign_id, title, status, amount) VALUES (?, ?, ?, ?, ?)",
			i, i%3, fmt.Sprintf("advert-%03d", i), statuses[i%5], float64(i))
	}
}

func TestSaveEntity_RoundTrip(t *testing.T) {
	dao, _ := createTestDAO(t)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	a := testutil.NewAdvert(m, "Spring sale", "ACTIVE", 12)
	require.NoError(t, a.Set("amount", 9.5))
	require.NoError(t, dao.SaveEntity(ctx, a))
	require.NotNil(t, a.ID())

	got, ok, err := dao.FetchEntity(ctx, m, "id", a.ID())
	require.NoError(t, err)
	require.True(t, ok)
	r := got.(*store.Record)
	assert.Equal(t, a.ID(), r.ID())
	assert.Equal(t, "Spring sale", r.Get("title"))
	assert.Equal(t, "ACTIVE", r.Get("status"))
	assert.Equal(t, int32(12), r.Get("campaignId"))
	assert.Equal(t, 9.5, r.Get("amount"))
}

func TestFetchEntity_NoMatch(t *testing.T) {
	dao, _ := createTestDAO(t)

	got, ok, err := dao.FetchEntity(context.Background(), testutil.AdvertMapping(), "id", 404)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSaveOrUpdate(t *testing.T) {
	dao, pc := createTestDAO(t)
	m := testutil.ScreenMapping()
	ctx := context.Background()

	s := testutil.NewScreen(m, 7, "lobby")
	require.NoError(t, dao.SaveOrUpdate(ctx, s))
	require.NoError(t, s.Set("name", "foyer"))
	require.NoError(t, dao.SaveOrUpdate(ctx, s))

	assert.Equal(t, 1, testutil.CountRows(t, pc, "screens"))
	got, ok, err := dao.FetchEntity(ctx, m, "screenId", 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "foyer", got.(*store.Record).Get("name"))
}

func TestUpdateAndDeleteEntity(t *testing.T) {
	dao, pc := createTestDAO(t)
	m := testutil.ScreenMapping()
	ctx := context.Background()

	s := testutil.NewScreen(m, 1, "lobby")
	require.NoError(t, dao.SaveEntity(ctx, s))
	require.NoError(t, s.Set("name", "atrium"))
	require.NoError(t, dao.UpdateEntity(ctx, s))

	got, _, err := dao.FetchEntity(ctx, m, "screenId", 1)
	require.NoError(t, err)
	assert.Equal(t, "atrium", got.(*store.Record).Get("name"))

	require.NoError(t, dao.DeleteEntity(ctx, s))
	assert.Equal(t, 0, testutil.CountRows(t, pc, "screens"))

	err = dao.UpdateEntity(ctx, s)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestBulkOperations(t *testing.T) {
	dao, pc := createTestDAO(t, WithBatchSize(4))
	m := testutil.ScreenMapping()
	ctx := context.Background()

	var entities []store.Persistable
	for i := 1; i <= 10; i++ {
		entities = append(entities, testutil.NewScreen(m, int64(i), fmt.Sprintf("screen-%d", i)))
	}

	res, err := dao.InsertBulk(ctx, entities[:5])
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, res.Flushes)

	res, err = dao.SaveBulk(ctx, entities[5:])
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 10, testutil.CountRows(t, pc, "screens"))

	for _, e := range entities {
		require.NoError(t, e.(*store.Record).Set("name", "renamed"))
	}
	_, err = dao.UpdateBulk(ctx, entities)
	require.NoError(t, err)
	n, err := dao.Count(ctx, m, filter.Spec{"name": {"renamed"}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = dao.DeleteBulk(ctx, entities[:3])
	require.NoError(t, err)
	assert.Equal(t, 7, testutil.CountRows(t, pc, "screens"))
}

func TestSaveBulk_FailureKeepsDescription(t *testing.T) {
	dao, pc := createTestDAO(t)
	m := testutil.ScreenMapping()
	ctx := context.Background()

	require.NoError(t, dao.SaveEntity(ctx, testutil.NewScreen(m, 1, "lobby")))

	_, err := dao.SaveBulk(ctx, []store.Persistable{
		testutil.NewScreen(m, 2, "atrium"),
		testutil.NewScreen(m, 1, "duplicate"),
	})
	require.Error(t, err)
	var se *store.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.KindEngine, se.Kind)
	assert.Equal(t, "save bulk: insert Screen", se.Op)
	assert.Equal(t, 1, testutil.CountRows(t, pc, "screens"))
}

func TestBulkWritesJoinCallerUnit(t *testing.T) {
	dao, pc := createTestDAO(t)
	m := testutil.ScreenMapping()
	ctx := context.Background()

	err := dao.Executor().Run(ctx, uow.Operation{Description: "import screens"}, func(ctx context.Context, s *store.Session) error {
		if err := s.Save(ctx, testutil.NewScreen(m, 1, "lobby")); err != nil {
			return err
		}
		if _, err := dao.InsertBulk(ctx, []store.Persistable{testutil.NewScreen(m, 2, "atrium")}); err != nil {
			return err
		}
		n, err := dao.Count(ctx, m, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), n)
		return errors.New("abandon import")
	})
	require.Error(t, err)
	assert.Equal(t, 0, testutil.CountRows(t, pc, "screens"))
}

func TestProcessAndSave(t *testing.T) {
	dao, pc := createTestDAO(t)
	m := testutil.ScreenMapping()

	n, err := dao.ProcessAndSave(context.Background(), func(ctx context.Context, s *store.Session) (int, error) {
		for i := 1; i <= 3; i++ {
			if err := s.Save(ctx, testutil.NewScreen(m, int64(i), "x")); err != nil {
				return 0, err
			}
		}
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, testutil.CountRows(t, pc, "screens"))
}

func TestFilterPassthroughScenario(t *testing.T) {
	dao, pc := createTestDAO(t)
	seedAdverts(t, pc, 100)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	spec := filter.Spec{
		"status":     {"ACTIVE", "PAUSED"},
		"campaignId": {"1"},
	}
	n, err := dao.Count(ctx, m, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)

	all, err := dao.FetchBulk(ctx, m, spec)
	require.NoError(t, err)
	assert.Len(t, all, 40)

	omitted, err := dao.FetchBulk(ctx, m, filter.Spec{"status": {"ACTIVE", "PAUSED"}})
	require.NoError(t, err)
	assert.Equal(t, len(omitted), len(all))

	// numeric 1 is a real value: ids 1 and 10 mod 15.
	narrowed := spec.Where("campaignId", 1)
	n, err = dao.Count(ctx, m, narrowed)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, []any{"1"}, spec["campaignId"])
}

func TestSingleValueLookupsCompareSentinel(t *testing.T) {
	dao, pc := createTestDAO(t)
	seedAdverts(t, pc, 5)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	got, ok, err := dao.FetchEntity(ctx, m, "title", "1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	_, ok, err = dao.MostRecent(ctx, m, "title", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, id := range []int{8, 9} {
		testutil.MustExec(t, pc,
			"INSERT INTO adverts (id, campaign_id, title, status, amount) VALUES (?, ?, ?, ?, ?)",
			id, 2, "1", "ACTIVE", 1.0)
	}

	got, ok, err = dao.FetchEntity(ctx, m, "title", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), got.(*store.Record).ID())

	got, ok, err = dao.MostRecent(ctx, m, "title", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), got.(*store.Record).ID())
}

func TestExistsAndSum(t *testing.T) {
	dao, pc := createTestDAO(t)
	seedAdverts(t, pc, 6)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	ok, err := dao.Exists(ctx, m, filter.Spec{"campaignId": {2}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dao.Exists(ctx, m, filter.Spec{"campaignId": {9}})
	require.NoError(t, err)
	assert.False(t, ok)

	// campaign 0 holds ids 3 and 6.
	sum, err := dao.Sum(ctx, m, filter.Spec{"campaignId": {0}}, "amount")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, sum, 1e-9)

	sum, err = dao.Sum(ctx, m, filter.Spec{"campaignId": {9}}, "amount")
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestFetchColumnAndMostRecent(t *testing.T) {
	dao, pc := createTestDAO(t)
	seedAdverts(t, pc, 7)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	titles, err := dao.FetchColumn(ctx, m, filter.Spec{"campaignId": {1}}, "title")
	require.NoError(t, err)
	assert.Equal(t, []any{"advert-001", "advert-004", "advert-007"}, titles)

	latest, ok, err := dao.MostRecent(ctx, m, "campaignId", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), latest.(*store.Record).ID())
}

func TestScan(t *testing.T) {
	dao, pc := createTestDAO(t, WithScrollInterval(2))
	seedAdverts(t, pc, 5)
	m := testutil.AdvertMapping()

	var ids []any
	n, err := dao.Scan(context.Background(), m, nil, func(e store.Persistable) error {
		ids = append(ids, store.IDOf(e))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, ids)
}

func TestNamedQueries(t *testing.T) {
	dao, pc := createTestDAO(t, WithQueries(map[string]string{
		"byCampaigns": "SELECT * FROM adverts WHERE campaign_id IN (:campaignId) ORDER BY id",
		"pause":       "UPDATE adverts SET status = 'PAUSED' WHERE campaign_id = :campaignId",
	}))
	seedAdverts(t, pc, 6)
	m := testutil.AdvertMapping()
	ctx := context.Background()

	got, err := dao.FetchNamed(ctx, m, "byCampaigns", map[string]any{"campaignId": []string{"1", "2"}})
	require.NoError(t, err)
	var ids []any
	for _, e := range got {
		ids = append(ids, store.IDOf(e))
	}
	assert.Equal(t, []any{int64(1), int64(2), int64(4), int64(5)}, ids)

	n, err := dao.ExecNamed(ctx, "pause", map[string]any{"campaignId": "0"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = dao.ExecNamed(ctx, "pause", map[string]any{"campaignId": "abc"})
	require.Error(t, err)
	assert.True(t, store.IsCoercionError(err))

	_, err = dao.FetchNamed(ctx, m, "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown named query")

	_, err = dao.ExecNamed(ctx, "pause", nil)
	require.Error(t, err)
	assert.True(t, store.IsCoercionError(err), "a missing parameter is a binding failure")
}

func TestExecuteUpdate(t *testing.T) {
	dao, pc := createTestDAO(t)
	seedAdverts(t, pc, 4)

	n, err := dao.ExecuteUpdate(context.Background(), "DELETE FROM adverts WHERE id > ?", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, testutil.CountRows(t, pc, "adverts"))

	_, err = dao.ExecuteUpdate(context.Background(), "DELETE FROM nowhere")
	require.Error(t, err)
	assert.True(t, store.IsEngineError(err))
}

func TestOpen_FromConfig(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "layer.db")
	cfg, err := config.Parse([]byte(`
database:
  dsn: ` + dsn + `
audit:
  history: true
queries:
  named: "SELECT * FROM notes WHERE id = :id"
entities:
  - name: Note
    table: notes
    id: id
    generated: true
    properties:
      - {name: id, kind: int64}
      - {name: body, kind: text}
      - {name: createdBy, column: created_by, kind: text}
      - {name: createdOn, column: created_on, kind: timestamp}
`))
	require.NoError(t, err)

	ctx := context.Background()
	l, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.ExecuteUpdate(ctx, `CREATE TABLE notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT, created_by TEXT, created_on TIMESTAMP)`)
	require.NoError(t, err)

	assert.Equal(t, []string{"Note"}, l.Entities())
	_, err = l.Mapping("Advert")
	require.Error(t, err)

	m, err := l.Mapping("Note")
	require.NoError(t, err)
	note := store.NewRecord(m)
	require.NoError(t, note.Set("body", "hello"))
	note.SetAuditUser("ops")
	require.NoError(t, l.SaveEntity(ctx, note))

	got, err := l.FetchNamed(ctx, m, "named", map[string]any{"id": note.ID()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ops", got[0].(*store.Record).Get("createdBy"))
	assert.NotNil(t, got[0].(*store.Record).Get("createdOn"))
}
