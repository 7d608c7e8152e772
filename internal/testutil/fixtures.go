package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/store"
)

// Schema creates the fixture tables.
const Schema = `
CREATE TABLE audience_types (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE adverts (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id           INTEGER,
	title                 TEXT,
	status                TEXT,
	display_date          DATE,
	amount                REAL,
	is_uploaded_to_dsm    BOOLEAN,
	audience_type_id      INTEGER REFERENCES audience_types(id),
	created_by            TEXT,
	created_on            TIMESTAMP,
	last_modified_by      TEXT,
	date_last_modified    TIMESTAMP,
	modified_by_history   TEXT,
	date_modified_history TEXT
);

CREATE TABLE screens (
	screen_id INTEGER PRIMARY KEY,
	name      TEXT NOT NULL
);
`

// OpenContext opens a persistence context on a fresh SQLite file with the
// fixture schema applied. The context is closed when the test ends.
func OpenContext(t testing.TB, opts ...store.Option) *store.Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pc := store.NewContext(config.Database{Driver: "sqlite3", DSN: path}, opts...)
	if err := pc.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.DB().Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pc
}

// AudienceTypeMapping maps the audience_types table.
func AudienceTypeMapping() *store.Mapping {
	m := &store.Mapping{
		Entity: "AudienceType",
		Table:  "audience_types",
		ID:     "id",
		Properties: []store.Property{
			{Name: "id", Type: store.TypeInt64},
			{Name: "name", Type: store.TypeText},
		},
	}
	m.New = func() store.Persistable { return store.NewRecord(m) }
	return m
}

// AdvertMapping maps the adverts table, including the audit columns and a
// relation to audience types reachable as "audienceTypes".
func AdvertMapping() *store.Mapping {
	m := &store.Mapping{
		Entity:    "Advert",
		Table:     "adverts",
		ID:        "id",
		Generated: true,
		Properties: []store.Property{
			{Name: "id", Type: store.TypeInt64},
			{Name: "campaignId", Column: "campaign_id", Type: store.TypeInt32},
			{Name: "title", Type: store.TypeText},
			{Name: "status", Type: store.TypeEnum, Enum: []string{"ACTIVE", "PAUSED", "ENDED"}},
			{Name: "displayDate", Column: "display_date", Type: store.TypeDate},
			{Name: "amount", Type: store.TypeFloat},
			{Name: "isUploadedToDSM", Column: "is_uploaded_to_dsm", Type: store.TypeBool},
			{Name: "audienceTypeId", Column: "audience_type_id", Type: store.TypeInt64},
			{Name: "createdBy", Column: "created_by", Type: store.TypeText},
			{Name: "createdOn", Column: "created_on", Type: store.TypeTimestamp},
			{Name: "lastModifiedBy", Column: "last_modified_by", Type: store.TypeText},
			{Name: "dateLastModified", Column: "date_last_modified", Type: store.TypeTimestamp},
			{Name: "modifiedByHistory", Column: "modified_by_history", Type: store.TypeText},
			{Name: "dateModifiedHistory", Column: "date_modified_history", Type: store.TypeText},
		},
		Relations: map[string]store.Relation{
			"audienceTypes": {
				Target:       AudienceTypeMapping(),
				LocalColumn:  "audience_type_id",
				TargetColumn: "id",
			},
		},
	}
	m.New = func() store.Persistable { return store.NewRecord(m) }
	return m
}

// ScreenMapping maps the screens table, whose identity is assigned by the
// application.
func ScreenMapping() *store.Mapping {
	m := &store.Mapping{
		Entity: "Screen",
		Table:  "screens",
		ID:     "screenId",
		Properties: []store.Property{
			{Name: "screenId", Column: "screen_id", Type: store.TypeInt64},
			{Name: "name", Type: store.TypeText},
		},
	}
	m.New = func() store.Persistable { return store.NewRecord(m) }
	return m
}

// NewAdvert builds an unsaved advert record.
func NewAdvert(m *store.Mapping, title, status string, campaignID int32) *store.Record {
	r := store.NewRecord(m)
	mustSet(r, "title", title)
	mustSet(r, "status", status)
	mustSet(r, "campaignId", campaignID)
	return r
}

// NewScreen builds an unsaved screen record.
func NewScreen(m *store.Mapping, id int64, name string) *store.Record {
	r := store.NewRecord(m)
	mustSet(r, "screenId", id)
	mustSet(r, "name", name)
	return r
}

// CountRows returns the number of rows in table.
func CountRows(t testing.TB, pc *store.Context, table string) int {
	t.Helper()
	var n int
	if err := pc.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// MustExec runs a statement on the context pool.
func MustExec(t testing.TB, pc *store.Context, query string, args ...any) {
	t.Helper()
	if _, err := pc.DB().Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func mustSet(r *store.Record, name string, v any) {
	if err := r.Set(name, v); err != nil {
		panic(err)
	}
}
