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

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, DefaultAdminKey, cfg.AdminKey)
	assert.True(t, cfg.InsecureAdminKey())
	assert.Equal(t, 256, cfg.WorkerPoolSize)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("ADMIN_KEY", "s3cret")
	t.Setenv("READ_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.ListenAddr)
	assert.False(t, cfg.InsecureAdminKey())
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoad_ListenAddrWinsOverPort(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("WRITE_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse env")
}

func TestLoad_RejectsNonPositivePool(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_POOL_SIZE")
}
