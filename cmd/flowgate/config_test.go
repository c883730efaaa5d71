package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, ":4700", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.False(t, cfg.MockMode)
	assert.Contains(t, cfg.DBPath, "flowgate.db")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FLOWGATE_LISTEN_ADDR", ":9999")
	t.Setenv("FLOWGATE_DB_PATH", "/tmp/test-flowgate.db")
	t.Setenv("FLOWGATE_REDIS_ADDR", "localhost:6379")
	t.Setenv("FLOWGATE_LOG_LEVEL", "debug")
	t.Setenv("FLOWGATE_POOL_SIZE", "3")
	t.Setenv("FLOWGATE_MOCK_MODE", "true")
	t.Setenv("FLOWGATE_GBP_BASE_URL", "https://gbp.example.com")

	cfg := loadConfig()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test-flowgate.db", cfg.DBPath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.True(t, cfg.MockMode)
	assert.Equal(t, "https://gbp.example.com", cfg.GBPBaseURL)
}

func TestLoadConfigIgnoresBadPoolSize(t *testing.T) {
	t.Setenv("FLOWGATE_POOL_SIZE", "many")
	cfg := loadConfig()
	assert.Equal(t, 10, cfg.PoolSize)
}
