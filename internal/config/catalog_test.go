package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_InlineWins(t *testing.T) {
	cat, err := LoadCatalog(ModelConfig{ClassCatalog: []string{"car", "person"}, ClassCatalogPath: "/ignored.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "person"}, cat.Names())
}

func TestLoadCatalog_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.json")
	require.NoError(t, os.WriteFile(path, []byte(`["car","truck","bus"]`), 0o644))

	cat, err := LoadCatalog(ModelConfig{ClassCatalogPath: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "truck", "bus"}, cat.Names())
}

func TestLoadCatalog_TextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.txt")
	require.NoError(t, os.WriteFile(path, []byte("car\ntruck\n\nbus\n"), 0o644))

	cat, err := LoadCatalog(ModelConfig{ClassCatalogPath: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "truck", "bus"}, cat.Names(), "blank lines are skipped")
}

func TestLoadCatalog_FallsBackToBuiltin(t *testing.T) {
	cat, err := LoadCatalog(ModelConfig{})
	require.NoError(t, err)
	assert.Len(t, cat.Names(), 80)
}

func TestCatalog_ResolveReportsUnknown(t *testing.T) {
	cat := NewCatalog([]string{"car", "person", "dog"})
	ids, unknown := cat.Resolve([]string{"car", "bicycle", "dog"})
	assert.True(t, ids[0])
	assert.True(t, ids[2])
	assert.Equal(t, []string{"bicycle"}, unknown)
}

func TestCatalog_SwapReplacesAtomically(t *testing.T) {
	cat := NewCatalog([]string{"car"})
	ids, _ := cat.Resolve([]string{"car"})
	assert.True(t, ids[0])

	cat.Swap([]string{"truck"})
	ids, unknown := cat.Resolve([]string{"car"})
	assert.Empty(t, ids)
	assert.Equal(t, []string{"car"}, unknown)
}
