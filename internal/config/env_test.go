package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spdeepak/shellcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, shellcache.DefaultGeneration, cfg.Generation)
	assert.Equal(t, 24*time.Hour, cfg.WakeInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 64, cfg.MemoryMB)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.Origin)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHELLCACHE_ORIGIN", "http://127.0.0.1:3000")
	t.Setenv("SHELLCACHE_GENERATION", "plastic-eliminator-v2")
	t.Setenv("SHELLCACHE_WAKE_INTERVAL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:3000", cfg.Origin)
	assert.Equal(t, "plastic-eliminator-v2", cfg.Generation)
	assert.Equal(t, time.Hour, cfg.WakeInterval)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("SHELLCACHE_MEMORY_MB", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"), err.Error())
}

func TestWorkerConfig(t *testing.T) {
	cfg := Env{Generation: "v7", MaxBodyBytes: 99}

	workerCfg := cfg.WorkerConfig()

	assert.Equal(t, "v7", workerCfg.Generation)
	assert.Equal(t, int64(99), workerCfg.MaxBodyBytes)
	assert.Equal(t, shellcache.DefaultManifest, workerCfg.Manifest)
	assert.Equal(t, shellcache.DefaultGeneration, shellcache.DefaultConfig.Generation, "defaults are not mutated")
}
