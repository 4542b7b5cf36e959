package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, 60*time.Second, cfg.PresenceInterval)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadOverlaysEnv(t *testing.T) {
	cfg, err := LoadFrom([]string{
		"RELAY_PORT=9090",
		"RELAY_CACHE_TTL=30s",
		"RELAY_NATS_SERVERS=nats://a:4222,nats://b:4222",
		"RELAY_STORAGE=postgres",
		"RELAY_POSTGRES_DSN=postgres://relay@localhost/relay",
		"HOME=/root",
	})
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NatsServers)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := LoadFrom([]string{"RELAY_STORAGE=mongo"})
	assert.Error(t, err)

	_, err = LoadFrom([]string{"RELAY_STORAGE=sqlite"})
	assert.Error(t, err)

	_, err = LoadFrom([]string{"RELAY_PORT=abc"})
	assert.Error(t, err)

	_, err = LoadFrom([]string{"RELAY_PING_INTERVAL=2m"})
	assert.Error(t, err)
}

func TestJWTOptions(t *testing.T) {
	cfg := Default()
	_, err := cfg.JWTOptions()
	assert.Error(t, err)

	cfg.JWTSecret = "s3cret"
	opts, err := cfg.JWTOptions()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), opts.Secret)

	cfg.JWTAlg = "RS256"
	cfg.JWTPublicKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = cfg.JWTOptions()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(cfg.JWTPublicKeyFile, []byte("garbage"), 0o600))
	_, err = cfg.JWTOptions()
	assert.Error(t, err)
}
