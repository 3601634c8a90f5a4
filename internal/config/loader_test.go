package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the assessd config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "assessd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 9191
  shutdown_timeout: 3s
pipeline:
  port_timeout: 15s
schema:
  min_explanation: 80
capability:
  provider: scripted
  scripted_path: /tmp/script.yaml
  burst: 4
store:
  path: /var/lib/assessd
events:
  nats_url: nats://localhost:4222
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 15*time.Second, cfg.Pipeline.PortTimeout.Duration())
	assert.Equal(t, 80, cfg.Schema.MinExplanation)
	assert.Equal(t, 3, cfg.Schema.MinMCQs, "unset limits keep defaults")
	assert.NotEmpty(t, cfg.Schema.Bands)
	assert.Equal(t, "scripted", cfg.Capability.Provider)
	assert.Equal(t, 4, cfg.Capability.Burst)
	assert.Equal(t, "/var/lib/assessd", cfg.Store.Path)
	assert.Equal(t, "run_artifacts", cfg.Store.Collection)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "assessd.runs.finalized", cfg.Events.Subject)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("ASSESSD_SERVER_HTTP_PORT", "9292")
	t.Setenv("ASSESSD_CAPABILITY_PROVIDER", "openai")
	t.Setenv("ASSESSD_CAPABILITY_API_KEY", "sk-test-key")
	t.Setenv("ASSESSD_PIPELINE_PORT_TIMEOUT", "45s")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Capability.Provider)
	assert.Equal(t, "sk-test-key", cfg.Capability.APIKey.Value())
	assert.Equal(t, 45*time.Second, cfg.Pipeline.PortTimeout.Duration())
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithFile_Rejections(t *testing.T) {
	dir := setupTestHome(t)

	t.Run("outside allowed dirs", func(t *testing.T) {
		_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
		assert.ErrorContains(t, err, "config path validation failed")
	})

	t.Run("world readable", func(t *testing.T) {
		path := writeConfig(t, dir, "server:\n  http_port: 9000\n", 0644)
		_, err := LoadWithFile(path)
		assert.ErrorContains(t, err, "insecure config file permissions")
	})

	t.Run("openai without key", func(t *testing.T) {
		path := writeConfig(t, dir, "capability:\n  provider: openai\n", 0600)
		_, err := LoadWithFile(path)
		assert.ErrorContains(t, err, "api_key")
	})

	t.Run("unknown provider", func(t *testing.T) {
		path := writeConfig(t, dir, "capability:\n  provider: oracle\n", 0600)
		_, err := LoadWithFile(path)
		assert.ErrorContains(t, err, "unknown capability provider")
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("ASSESSD_SERVER_HTTP_PORT"))
	assert.Equal(t, "capability.requests_per_second", envKey("ASSESSD_CAPABILITY_REQUESTS_PER_SECOND"))
	assert.Equal(t, "debug", envKey("ASSESSD_DEBUG"))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Protocol = "udp"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Schema.MaxMCQs = 1
	assert.Error(t, cfg.Validate())
}

func TestSecret_NeverSerializesValue(t *testing.T) {
	s := Secret("sk-live-123")
	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
