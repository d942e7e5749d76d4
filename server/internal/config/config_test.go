package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  addr: \":9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 300*time.Millisecond, cfg.Gesture.TapWindow)
	assert.Equal(t, 0.2, cfg.Gesture.DistanceRatio)
	assert.Equal(t, 500.0, cfg.Gesture.VelocityThreshold)
	assert.Equal(t, 900*time.Millisecond, cfg.Feed.LikeBurst)
	assert.Equal(t, 16*time.Millisecond, cfg.Gateway.FrameInterval)
	assert.Equal(t, 10*time.Minute, cfg.Gateway.ViewerTTL)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
}

func TestParseDurationsAndSections(t *testing.T) {
	data := []byte(`
storage:
  backend: SQLite
  path: /tmp/spotted.db
  key: photos_v2
gesture:
  tap_window: 250ms
  distance_ratio: 0.25
  velocity_threshold: 650
paging:
  commit_duration: 300ms
feed:
  like_burst: 1s
logging:
  prefix_flags: true
paths:
  seed: server/configs/seed_photos.json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "photos_v2", cfg.Storage.Key)
	assert.Equal(t, 250*time.Millisecond, cfg.Gesture.TapWindow)
	assert.Equal(t, 0.25, cfg.Gesture.DistanceRatio)
	assert.Equal(t, 650.0, cfg.Gesture.VelocityThreshold)
	assert.Equal(t, 300*time.Millisecond, cfg.Paging.CommitDuration)
	assert.Equal(t, time.Second, cfg.Feed.LikeBurst)
	assert.True(t, cfg.Logging.PrefixFlags)
	assert.Equal(t, "server/configs/seed_photos.json", cfg.Paths.Seed)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPOTTED_ADDR", ":7070")
	t.Setenv("SPOTTED_STORAGE_BACKEND", "file")
	t.Setenv("SPOTTED_STORAGE_PATH", t.TempDir())

	cfg, err := Parse([]byte("storage:\n  backend: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.Path)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown backend":  "storage:\n  backend: redis\n",
		"file without dir": "storage:\n  backend: file\n",
		"ratio too large":  "gesture:\n  distance_ratio: 1.5\n",
		"negative speed":   "gesture:\n  velocity_threshold: -1\n",
		"rubber band":      "paging:\n  rubber_band_ratio: 2\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			if err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  ping_interval: 10s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Gateway.PingInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Storage.Backend)
}
