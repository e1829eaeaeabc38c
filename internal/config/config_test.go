package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultMaxConcurrentSessions, cfg.MaxConcurrentSessions)
	assert.Equal(t, time.Second, cfg.StepTimeout)
	assert.Equal(t, 5*time.Second, cfg.FlowTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionRetention)
	assert.Equal(t, 5, cfg.RateLimitCapacity)
	assert.InDelta(t, 5.0, cfg.RateLimitRefillPS, 0.001)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "10")
	t.Setenv("STEP_TIMEOUT_MS", "250")
	t.Setenv("FLOW_TIMEOUT_MS", "2000")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10, cfg.MaxConcurrentSessions)
	assert.Equal(t, 250*time.Millisecond, cfg.StepTimeout)
	assert.Equal(t, 2*time.Second, cfg.FlowTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimitRefillPS, 0.001)
}

func TestLoad_CORSOrigins(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, https://admin.example.com")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ops.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sessions", func(c *Config) { c.MaxConcurrentSessions = 0 }},
		{"zero step timeout", func(c *Config) { c.StepTimeout = 0 }},
		{"flow shorter than step", func(c *Config) { c.FlowTimeout = c.StepTimeout / 2 }},
		{"zero capacity", func(c *Config) { c.RateLimitCapacity = 0 }},
		{"zero refill", func(c *Config) { c.RateLimitRefillPS = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_SESSIONS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrentSessions, cfg.MaxConcurrentSessions)
}
