package migration

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ventureflow/config"
)

func TestAvailableMigrationsParsesAndSorts(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000002_add_reports.up.sql":   {Data: []byte("CREATE TABLE r ();")},
		"migrations/000002_add_reports.down.sql": {Data: []byte("DROP TABLE r;")},
		"migrations/000001_init_schema.up.sql":   {Data: []byte("CREATE TABLE s ();")},
		"migrations/000001_init_schema.down.sql": {Data: []byte("DROP TABLE s;")},
		"migrations/README.md":                   {Data: []byte("notes")},
		"migrations/badname.up.sql":              {Data: []byte("SELECT 1;")},
	}

	files, err := availableMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, uint(1), files[0].version)
	assert.Equal(t, "init_schema", files[0].name)
	assert.Equal(t, uint(2), files[1].version)
	assert.Equal(t, "add_reports", files[1].name)
}

func TestAvailableMigrationsSkipsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000001_first.up.sql":  {Data: []byte("SELECT 1;")},
		"migrations/000001_second.up.sql": {Data: []byte("SELECT 2;")},
	}

	files, err := availableMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "first", files[0].name)
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	files, err := availableMigrations(postgresFS, "migrations/postgres")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	// Versions must be contiguous from 1 so a fresh database replays
	// cleanly.
	for i, f := range files {
		assert.Equal(t, uint(i+1), f.version)
		assert.NotEmpty(t, f.name)
	}
}

func TestNewMigratorFromDatabaseConfigRejectsSqlite(t *testing.T) {
	_, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
