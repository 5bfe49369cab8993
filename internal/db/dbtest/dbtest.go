package dbtest

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/esnunes/repeater/internal/db"
)

// New opens an isolated in-memory database for t, closed on cleanup.
func New(t testing.TB, codecVersion int) (*sql.DB, *db.Queries) {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb_%s?mode=memory&cache=shared", ulid.Make().String())
	conn, err := db.Open(dsn, codecVersion)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, db.NewQueries(conn)
}
