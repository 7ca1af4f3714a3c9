package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNAndURL(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss word", Name: "intake", SSLMode: "disable"}
	assert.Equal(t, "user=bot password=p@ss word host=db port=5432 dbname=intake sslmode=disable", DSN(cfg))
	assert.Equal(t, "postgres://bot:p%40ss%20word@db:5432/intake?sslmode=disable", URL(cfg))
}

func TestUpFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	files := upFiles(dir)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, files)
	assert.Equal(t, []string{"000002_b.up.sql"}, appliedBetween(files, 1, 2))
	assert.Empty(t, appliedBetween(files, 2, 2))
	assert.Nil(t, upFiles(filepath.Join(dir, "missing")))
}

func TestRepoMigrationsPresent(t *testing.T) {
	files := upFiles("../../migrations")
	require.NotEmpty(t, files)
	assert.Equal(t, uint64(1), fileVersion(files[0]))
}
