package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FillsDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  bind_port: 9000
model:
  conf_threshold: 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.BindPort)
	assert.Equal(t, 0.5, cfg.Model.ConfThreshold)
	assert.Equal(t, "0.0.0.0", cfg.Server.BindHost, "unset fields keep their default")
	assert.Equal(t, 60, cfg.Sessions.SegmentDurationS)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadTrackerParams_EmptyPathIsNoop(t *testing.T) {
	p, err := LoadTrackerParams("")
	require.NoError(t, err)
	assert.Nil(t, p.MatchThresh)
}

func TestLoadTrackerParams_ReadsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match_thresh: 0.4\nmax_age: 45\n"), 0o644))

	p, err := LoadTrackerParams(path)
	require.NoError(t, err)
	require.NotNil(t, p.MatchThresh)
	assert.Equal(t, 0.4, *p.MatchThresh)
	require.NotNil(t, p.MaxAge)
	assert.Equal(t, 45, *p.MaxAge)
	assert.Nil(t, p.MinHits)
}
