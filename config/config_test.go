package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "clusterManager", cfg.Cluster.Name)
	assert.NotEmpty(t, cfg.Cluster.NodeID)
	assert.Equal(t, 6*time.Second, cfg.Cluster.InitialTime)
	assert.Equal(t, time.Second, cfg.Cluster.CheckAlivePeriod)
	assert.Equal(t, uint(3), cfg.Cluster.CheckAliveCount)
	assert.Equal(t, "least-used", cfg.Cluster.Strategy["general"])
	assert.Equal(t, 160*time.Millisecond, cfg.Election.DecideAfter)
	assert.Equal(t, 2, cfg.Election.MaxMissedHeartbeats)
	assert.Equal(t, "memory", cfg.Bus.Backend)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
cluster:
  name: media
  node_id: node-7
  cluster_id: c-1
  initial_time: 2s
  strategy:
    general: round-robin
    video: most-used
bus:
  backend: redis
  redis_addr: redis:6379
storage:
  backend: badger
  in_memory: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "media", cfg.Cluster.Name)
	assert.Equal(t, "node-7", cfg.Cluster.NodeID)
	assert.Equal(t, 2*time.Second, cfg.Cluster.InitialTime)
	assert.Equal(t, map[string]string{"general": "round-robin", "video": "most-used"}, cfg.Cluster.Strategy)
	assert.Equal(t, "redis", cfg.Bus.Backend)
	assert.Equal(t, "redis:6379", cfg.Bus.RedisAddr)
	assert.True(t, cfg.Storage.InMemory)
	// untouched keys keep their defaults
	assert.Equal(t, 20*time.Millisecond, cfg.Election.HeartbeatInterval)
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
cluster:
  strategy:
    video: best-guess
`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestLoadConfigRejectsBadBackends(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "bus:\n  backend: kafka\n"))
	assert.ErrorContains(t, err, "bus.backend")

	_, err = LoadConfig(writeConfig(t, "storage:\n  backend: sqlite\n"))
	assert.ErrorContains(t, err, "storage.backend")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CLUSTERMGR_CLUSTER_NODE_ID", "from-env")
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9001\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Cluster.NodeID)
}
