package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := load()

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, BrokerMemory, cfg.Realtime.Broker)
	assert.Equal(t, 4000, cfg.Messaging.MaxMessageLength)
	assert.False(t, cfg.Messaging.AllowSelfMessages)
	assert.Equal(t, 5, cfg.Realtime.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.ReconnectBackoff)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REALTIME_BROKER", "Redis")
	t.Setenv("ALLOW_SELF_MESSAGES", "true")
	t.Setenv("MAX_MESSAGE_LENGTH", "280")
	t.Setenv("REALTIME_RECONNECT_BACKOFF", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://campus.example, https://admin.campus.example")
	t.Setenv("APP_ENV", "production")

	cfg := load()

	assert.Equal(t, BrokerRedis, cfg.Realtime.Broker)
	assert.True(t, cfg.Messaging.AllowSelfMessages)
	assert.Equal(t, 280, cfg.Messaging.MaxMessageLength)
	assert.Equal(t, 2*time.Second, cfg.Realtime.ReconnectBackoff)
	assert.Equal(t, []string{"https://campus.example", "https://admin.campus.example"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.IsProduction())
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "many")
	t.Setenv("CACHE_TTL", "forever")

	cfg := load()

	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}
