package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func flagsFor(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(flagsFor(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.PingPeriod)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, BackpressureClose, cfg.Backpressure)
	assert.Equal(t, AuthModeStatic, cfg.Auth.Mode)
	assert.Equal(t, 5*time.Second, cfg.Auth.VerifyTimeout)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9000
ping_period: 45s
backpressure: drop
auth:
  mode: static
  static_tokens:
    - token: T1
      user_id: alice
      email: alice@example.com
      email_verified: true
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: relay
    credential: secret
`)
	t.Setenv("RELAY_AUTH_CACHE_SIZE", "7")

	cfg, err := Load(flagsFor(t, "--config", path, "--port", "9100"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "flag wins over file")
	assert.Equal(t, 45*time.Second, cfg.PingPeriod)
	assert.Equal(t, BackpressureDrop, cfg.Backpressure)
	assert.Equal(t, 7, cfg.Auth.CacheSize, "env wins over default")
	require.Len(t, cfg.Auth.StaticTokens, 1)
	assert.Equal(t, "T1", cfg.Auth.StaticTokens[0].Token)
	assert.Equal(t, "alice", cfg.Auth.StaticTokens[0].UserID)
	assert.True(t, cfg.Auth.StaticTokens[0].EmailVerified)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "relay", cfg.ICEServers[0].Username)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("jwt without secret", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  mode: jwt\n")
		_, err := Load(flagsFor(t, "--config", path))
		assert.Error(t, err)
	})

	t.Run("unknown backpressure policy", func(t *testing.T) {
		path := writeConfig(t, "backpressure: ignore\n")
		_, err := Load(flagsFor(t, "--config", path))
		assert.Error(t, err)
	})

	t.Run("out of range values", func(t *testing.T) {
		for _, body := range []string{
			"port: 70000\n",
			"ping_period: 0s\n",
			"send_buffer: 0\n",
			"rate_burst: -1\n",
			"auth:\n  mode: oauth\n",
			"auth:\n  verify_timeout: 0s\n",
		} {
			path := writeConfig(t, body)
			_, err := Load(flagsFor(t, "--config", path))
			assert.Error(t, err, body)
		}
	})

	t.Run("errors name the config key", func(t *testing.T) {
		path := writeConfig(t, "backpressure: ignore\n")
		_, err := Load(flagsFor(t, "--config", path))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backpressure")
	})

	t.Run("broken yaml", func(t *testing.T) {
		path := writeConfig(t, "port: [\n")
		_, err := Load(flagsFor(t, "--config", path))
		assert.Error(t, err)
	})
}

func TestLoad_NilFlags(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}
