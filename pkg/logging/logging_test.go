package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustermgr/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New("test", config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clustermgr.log")
	logger, closer, err := New("clustermgr", config.LoggingConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)
	assert.True(t, logger.IsDebug())

	logger.Named("manager").Info("worker join", "worker", "w1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line))
	assert.Equal(t, "clustermgr.manager", line["@module"])
	assert.Equal(t, "worker join", line["@message"])
	assert.Equal(t, "w1", line["worker"])
}

func TestNewTextLevel(t *testing.T) {
	logger, closer, err := New("clustermgr", config.LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, hclog.Warn, logger.GetLevel())
}
