package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/platform/config"
	"tradegate/pkg/domainerrors"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.BackendMemory, cfg.LimiterBackend)
	assert.Equal(t, config.FailOpen, cfg.FailMode)
	assert.NotEmpty(t, cfg.JWTSigningKey)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_ADDR", ":9090")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RATE_LIMIT_FAIL_MODE", "closed")
	t.Setenv("ADMIN_EMAILS", "root@example.com, ops@example.com")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, config.BackendRedis, cfg.LimiterBackend)
	assert.Equal(t, config.FailClosed, cfg.FailMode)
	assert.Equal(t, []string{"root@example.com", "ops@example.com"}, cfg.AdminEmails)
}

func TestFromEnvRejectsBrokenDeployments(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"RATE_LIMIT_BACKEND": "postgres"}},
		{"redis without url", map[string]string{"RATE_LIMIT_BACKEND": "redis"}},
		{"unknown backend", map[string]string{"RATE_LIMIT_BACKEND": "memcache"}},
		{"unknown fail mode", map[string]string{"RATE_LIMIT_FAIL_MODE": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.FromEnv()
			require.Error(t, err)
			assert.Equal(t, domainerrors.CodeConfig, domainerrors.CodeOf(err))
		})
	}
}
