package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optimist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "todos", cfg.Collection)
	assert.Equal(t, RemoteMemory, cfg.Remote.Kind)
	assert.Equal(t, RealtimeNone, cfg.Realtime.Kind)
	assert.Equal(t, 30*time.Second, cfg.StaleTime)
	assert.False(t, cfg.Prune)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	path := writeConfig(t, `
collection: posts
client_id: laptop
remote:
  kind: sqlite
  path: /tmp/optimist.db
realtime:
  kind: redis
  url: redis://localhost:6379/2
  prefix: blog
stale_time: 1m30s
prune: true
metrics_addr: 127.0.0.1:9090
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Collection:  "posts",
		ClientID:    "laptop",
		Remote:      RemoteConfig{Kind: RemoteSQLite, Path: "/tmp/optimist.db"},
		Realtime:    RealtimeConfig{Kind: RealtimeRedis, URL: "redis://localhost:6379/2", Prefix: "blog"},
		StaleTime:   90 * time.Second,
		Prune:       true,
		MetricsAddr: "127.0.0.1:9090",
	}, cfg)
}

func TestLoadConfigEmptyFileKeepsDefaults(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRedisURLFromEnv(t *testing.T) {
	t.Setenv(RedisURLEnv, "redis://cache:6379/0")

	cfg, err := LoadConfig(writeConfig(t, "realtime:\n  kind: redis\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/0", cfg.Realtime.URL)

	cfg, err = LoadConfig(writeConfig(t, "realtime:\n  kind: redis\n  url: redis://file:6379/1\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis://file:6379/1", cfg.Realtime.URL, "file wins over env")
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown key", "colour: red\n", "field colour not found"},
		{"unknown collection", "collection: users\n", `unknown collection "users"`},
		{"sqlite without path", "remote:\n  kind: sqlite\n", "remote.path is required"},
		{"unknown remote", "remote:\n  kind: s3\n", `unknown remote kind "s3"`},
		{"redis without url", "realtime:\n  kind: redis\n", "realtime.url"},
		{"unknown realtime", "realtime:\n  kind: kafka\n", `unknown realtime kind "kafka"`},
		{"negative stale time", "stale_time: -1s\n", "stale_time must not be negative"},
		{"bad duration", "stale_time: soon\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigFlagsOverrideFile(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	var flags configFlags
	cmd := &cobra.Command{Use: "x"}
	flags.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--db", "/data/override.db",
		"--client-id", "desk",
		"--stale-time", "5s",
		"--redis", "redis://flag:6379/0",
	}))

	cfg := DefaultConfig()
	cfg.Prune = true
	require.NoError(t, flags.apply(cmd, cfg))

	assert.Equal(t, RemoteConfig{Kind: RemoteSQLite, Path: "/data/override.db"}, cfg.Remote)
	assert.Equal(t, "desk", cfg.ClientID)
	assert.Equal(t, 5*time.Second, cfg.StaleTime)
	assert.Equal(t, RealtimeConfig{Kind: RealtimeRedis, URL: "redis://flag:6379/0"}, cfg.Realtime)
	assert.True(t, cfg.Prune, "unset flags leave file values alone")
	assert.Equal(t, "todos", cfg.Collection)
}

func TestConfigFlagsValidate(t *testing.T) {
	var flags configFlags
	cmd := &cobra.Command{Use: "x"}
	flags.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--collection", "users"}))

	err := flags.apply(cmd, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown collection")
}
