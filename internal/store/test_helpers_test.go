package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/persistkit/internal/config"
)

const testSchema = `
CREATE TABLE users (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT NOT NULL,
	area    TEXT,
	credit  REAL,
	active  BOOLEAN,
	joined  DATE
);
`

// userMapping describes the users table as a Record-backed entity.
func userMapping() *Mapping {
	m := &Mapping{
		Entity:    "User",
		Table:     "users",
		ID:        "id",
		Generated: true,
		Properties: []Property{
			{Name: "id", Type: TypeInt64},
			{Name: "name", Type: TypeText},
			{Name: "area", Type: TypeText},
			{Name: "credit", Type: TypeFloat},
			{Name: "active", Type: TypeBool},
			{Name: "joined", Type: TypeDate},
		},
	}
	m.New = func() Persistable { return NewRecord(m) }
	return m
}

func newUser(m *Mapping, name, area string) *Record {
	r := NewRecord(m)
	_ = r.Set("name", name)
	_ = r.Set("area", area)
	return r
}

// createTestContext opens a persistence context on a fresh SQLite file.
func createTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pc := NewContext(config.Database{Driver: "sqlite3", DSN: path}, opts...)
	require.NoError(t, pc.Open(context.Background()))
	t.Cleanup(func() { pc.Close() })

	_, err := pc.DB().Exec(testSchema)
	require.NoError(t, err)
	return pc
}

func countUsers(t *testing.T, pc *Context) int {
	t.Helper()
	var n int
	require.NoError(t, pc.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&n))
	return n
}
