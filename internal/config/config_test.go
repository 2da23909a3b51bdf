package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load(nil)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "bolt", cfg.StoreDriver)
	assert.Equal(t, "local", cfg.EventBus)
	assert.Equal(t, 20, cfg.RateGateCapacity)
	assert.Equal(t, time.Minute, cfg.RateGateInterval)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Zero(t, cfg.ServerWriteTimeout)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_GATE_CAPACITY", "3")
	t.Setenv("RATE_GATE_INTERVAL", "30s")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("ENV", "development")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example https://b.example")

	cfg := Load(NewViper())

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 3, cfg.RateGateCapacity)
	assert.Equal(t, 30*time.Second, cfg.RateGateInterval)
	assert.Equal(t, "mongo", cfg.StoreDriver)
	assert.True(t, cfg.TracingEnabled)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}
