package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "DATABASE_URL", "FLAGSCALE_BACKEND", "FLAGSCALE_POLL_INTERVAL", "SERVER_PORT"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "local", cfg.Backend)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FLAGSCALE_BACKEND", "kubernetes")
	t.Setenv("K8S_NAMESPACE", "training")
	t.Setenv("FLAGSCALE_POLL_INTERVAL", "250ms")

	cfg := Load()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "kubernetes", cfg.Backend)
	assert.Equal(t, "training", cfg.K8sNamespace)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("POLL", "30")
	assert.Equal(t, 30*time.Second, getEnvDuration("POLL", time.Second))
	t.Setenv("POLL", "soon")
	assert.Equal(t, time.Second, getEnvDuration("POLL", time.Second))
}
