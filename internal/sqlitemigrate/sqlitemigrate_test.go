package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpSection(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id INTEGER);\n", UpSection(content))
	assert.Equal(t, "CREATE TABLE b (id INTEGER);", UpSection("CREATE TABLE b (id INTEGER);"))
	assert.Equal(t, "\nCREATE TABLE c (id INTEGER);", UpSection("-- +migrate Up\nCREATE TABLE c (id INTEGER);"))
}

func TestApplyRunsEachFileOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"001_a.sql":  {Data: []byte("-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;")},
		"002_b.sql":  {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"README.txt": {Data: []byte("ignored")},
	}

	require.NoError(t, Apply(ctx, db, migrations, ""))
	// A second run would fail on CREATE TABLE if the files were re-executed.
	require.NoError(t, Apply(ctx, db, migrations, "."))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestApplyRequiresDB(t *testing.T) {
	err := Apply(context.Background(), nil, fstest.MapFS{}, "")
	assert.EqualError(t, err, "sql db is required")
}
