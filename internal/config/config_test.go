package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "CLAWD_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "CLAWD_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "CLAWD_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "CLAWD_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CLAWD_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "CLAWD_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "CLAWD_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "CLAWD_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "CLAWD_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "CLAWD_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "CLAWD_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
		{name: "errors on hex", key: "CLAWD_TEST_INT_HEX", setVal: strPtr("0xFF"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt64(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int64
		want     int64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CLAWD_TEST_INT64_UNSET", setVal: nil, fallback: 1024, want: 1024},
		{name: "parses valid int64", key: "CLAWD_TEST_INT64_VALID", setVal: strPtr("4096"), fallback: 0, want: 4096},
		{name: "errors on non-numeric", key: "CLAWD_TEST_INT64_NAN", setVal: strPtr("nope"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt64(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "CLAWD_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "CLAWD_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses minutes", key: "CLAWD_TEST_DUR_MIN", setVal: strPtr("15m"), fallback: 0, want: 15 * time.Minute},
		{name: "parses hours", key: "CLAWD_TEST_DUR_HR", setVal: strPtr("2h"), fallback: 0, want: 2 * time.Hour},
		{name: "parses composite", key: "CLAWD_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses zero", key: "CLAWD_TEST_DUR_ZERO", setVal: strPtr("0s"), fallback: 5 * time.Second, want: 0},
		{name: "errors on invalid", key: "CLAWD_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "CLAWD_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Run("returns fallback when unset", func(t *testing.T) {
		got := getEnvList("CLAWD_TEST_LIST_UNSET", []string{"a", "b"})
		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("splits and trims comma list", func(t *testing.T) {
		t.Setenv("CLAWD_TEST_LIST_SET", "one, two ,three")
		got := getEnvList("CLAWD_TEST_LIST_SET", nil)
		assert.Equal(t, []string{"one", "two", "three"}, got)
	})

	t.Run("drops empty segments", func(t *testing.T) {
		t.Setenv("CLAWD_TEST_LIST_EMPTYSEG", "a,,b,")
		got := getEnvList("CLAWD_TEST_LIST_EMPTYSEG", nil)
		assert.Equal(t, []string{"a", "b"}, got)
	})
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		{name: "CLAWD_PORT not a number", envKey: "CLAWD_PORT", envVal: "abc", errMsg: "CLAWD_PORT"},
		{name: "CLAWD_PORT zero", envKey: "CLAWD_PORT", envVal: "0", errMsg: "CLAWD_PORT"},
		{name: "CLAWD_PORT too high", envKey: "CLAWD_PORT", envVal: "65536", errMsg: "CLAWD_PORT"},

		{name: "MAX_SESSIONS zero", envKey: "MAX_SESSIONS", envVal: "0", errMsg: "MAX_SESSIONS"},
		{name: "MAX_SESSIONS negative", envKey: "MAX_SESSIONS", envVal: "-5", errMsg: "MAX_SESSIONS"},
		{name: "MAX_SESSIONS not a number", envKey: "MAX_SESSIONS", envVal: "many", errMsg: "MAX_SESSIONS"},

		{name: "SESSION_CPU_SHARES not a number", envKey: "SESSION_CPU_SHARES", envVal: "abc", errMsg: "SESSION_CPU_SHARES"},
		{name: "SESSION_CPU_SHARES too low", envKey: "SESSION_CPU_SHARES", envVal: "1", errMsg: "SESSION_CPU_SHARES"},

		{name: "SESSION_PIDS_LIMIT zero", envKey: "SESSION_PIDS_LIMIT", envVal: "0", errMsg: "SESSION_PIDS_LIMIT"},

		{name: "JWT_TTL invalid", envKey: "JWT_TTL", envVal: "badval", errMsg: "JWT_TTL"},
		{name: "JWT_TTL zero", envKey: "JWT_TTL", envVal: "0s", errMsg: "JWT_TTL"},

		{name: "CLAWD_SERVER_READ_TIMEOUT invalid", envKey: "CLAWD_SERVER_READ_TIMEOUT", envVal: "notduration", errMsg: "CLAWD_SERVER_READ_TIMEOUT"},
		{name: "CLAWD_SERVER_WRITE_TIMEOUT zero", envKey: "CLAWD_SERVER_WRITE_TIMEOUT", envVal: "0s", errMsg: "CLAWD_SERVER_WRITE_TIMEOUT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-for-error-cases-32ch!")
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() edge cases -- boundary values
// ---------------------------------------------------------------------------

func TestLoad_BoundaryValues(t *testing.T) {
	tests := []struct {
		name     string
		envs     map[string]string
		assertFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "port min boundary 1",
			envs: map[string]string{
				"JWT_SECRET": "test-secret-that-is-at-least-32ch",
				"CLAWD_PORT": "1",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 1, cfg.Server.Port)
			},
		},
		{
			name: "port max boundary 65535",
			envs: map[string]string{
				"JWT_SECRET": "test-secret-that-is-at-least-32ch",
				"CLAWD_PORT": "65535",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 65535, cfg.Server.Port)
			},
		},
		{
			name: "MaxSessions min boundary 1",
			envs: map[string]string{
				"JWT_SECRET":   "test-secret-that-is-at-least-32ch",
				"MAX_SESSIONS": "1",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 1, cfg.Session.MaxSessions)
			},
		},
		{
			name: "CPUShares min boundary 2",
			envs: map[string]string{
				"JWT_SECRET":          "test-secret-that-is-at-least-32ch",
				"SESSION_CPU_SHARES": "2",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, int64(2), cfg.Session.CPUShares)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tc.assertFn(t, cfg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "my-dev-secret-at-least-32-chars!!")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "default", cfg.Server.InstanceID)
	assert.Equal(t, "host.docker.internal", cfg.Server.MasterHostname)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Docker.Host)
	assert.Equal(t, "clawd", cfg.Docker.Network)
	assert.Equal(t, "ghcr.io/clawd/session-agent:latest", cfg.Docker.SessionImage)
	assert.Empty(t, cfg.Docker.HostDrivePrefix)

	assert.Equal(t, "2g", cfg.Session.MemoryLimit)
	assert.Equal(t, int64(1024), cfg.Session.CPUShares)
	assert.Equal(t, int64(512), cfg.Session.PidsLimit)
	assert.Equal(t, 50, cfg.Session.MaxSessions)

	assert.Equal(t, "my-dev-secret-at-least-32-chars!!", cfg.JWT.Secret)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)

	assert.Empty(t, cfg.Slack.BotToken)
	assert.False(t, cfg.Slack.Enabled)

	assert.Equal(t, "./data/sessions.json", cfg.StorePath)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		"CLAWD_HOST":                "127.0.0.1",
		"CLAWD_PORT":                "9090",
		"CLAWD_INSTANCE_ID":         "instance-a",
		"CLAWD_MASTER_HOSTNAME":     "master.internal",
		"CLAWD_SERVER_READ_TIMEOUT": "5s",
		"CLAWD_SERVER_WRITE_TIMEOUT": "15s",
		"CLAWD_CORS_ORIGINS":        "https://a.example,https://b.example",

		"DOCKER_HOST":         "tcp://docker:2375",
		"CLAWD_NETWORK":       "clawd-net",
		"CLAWD_SESSION_IMAGE": "myregistry/agent:v2",
		"HOST_DRIVE_PREFIX":   "/host_mnt",

		"SESSION_MEMORY_LIMIT": "4g",
		"SESSION_CPU_SHARES":   "2048",
		"SESSION_PIDS_LIMIT":   "1024",
		"MAX_SESSIONS":         "100",

		"JWT_SECRET": "prod-jwt-secret-256-bits-long!!!",
		"JWT_TTL":    "12h",

		"SLACK_BOT_TOKEN":      "xoxb-test",
		"SLACK_NOTIFY_CHANNEL": "C0AGENTS",

		"SESSION_STORE_PATH": "/var/lib/clawd/sessions.json",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "instance-a", cfg.Server.InstanceID)
	assert.Equal(t, "master.internal", cfg.Server.MasterHostname)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "tcp://docker:2375", cfg.Docker.Host)
	assert.Equal(t, "clawd-net", cfg.Docker.Network)
	assert.Equal(t, "myregistry/agent:v2", cfg.Docker.SessionImage)
	assert.Equal(t, "/host_mnt", cfg.Docker.HostDrivePrefix)

	assert.Equal(t, "4g", cfg.Session.MemoryLimit)
	assert.Equal(t, int64(2048), cfg.Session.CPUShares)
	assert.Equal(t, int64(1024), cfg.Session.PidsLimit)
	assert.Equal(t, 100, cfg.Session.MaxSessions)

	assert.Equal(t, "prod-jwt-secret-256-bits-long!!!", cfg.JWT.Secret)
	assert.Equal(t, 12*time.Hour, cfg.JWT.TTL)

	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "C0AGENTS", cfg.Slack.Channel)
	assert.True(t, cfg.Slack.Enabled)

	assert.Equal(t, "/var/lib/clawd/sessions.json", cfg.StorePath)
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	validBase := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:         8080,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			Docker: DockerConfig{Network: "clawd"},
			Session: SessionConfig{
				CPUShares:   1024,
				PidsLimit:   512,
				MaxSessions: 50,
			},
			JWT: JWTConfig{
				Secret: "test-secret-that-is-at-least-32ch",
				TTL:    24 * time.Hour,
			},
			StorePath: "./data/sessions.json",
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("empty JWT secret fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = ""
		assert.ErrorContains(t, c.validate(), "JWT_SECRET")
	})

	t.Run("JWT secret too short fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = "only-31-characters-long-secret!"
		assert.ErrorContains(t, c.validate(), "JWT_SECRET")
	})

	t.Run("JWT secret exactly 32 chars passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = "exactly-32-characters-long-sec!!"
		assert.NoError(t, c.validate())
	})

	t.Run("port 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.Port = 0
		assert.ErrorContains(t, c.validate(), "CLAWD_PORT")
	})

	t.Run("port 65536 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.Port = 65536
		assert.ErrorContains(t, c.validate(), "CLAWD_PORT")
	})

	t.Run("port 1 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.Port = 1
		assert.NoError(t, c.validate())
	})

	t.Run("port 65535 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.Port = 65535
		assert.NoError(t, c.validate())
	})

	t.Run("MaxSessions 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.MaxSessions = 0
		assert.ErrorContains(t, c.validate(), "MAX_SESSIONS")
	})

	t.Run("MaxSessions negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.MaxSessions = -10
		assert.ErrorContains(t, c.validate(), "MAX_SESSIONS")
	})

	t.Run("MaxSessions 1 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.MaxSessions = 1
		assert.NoError(t, c.validate())
	})

	t.Run("CPUShares 1 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.CPUShares = 1
		assert.ErrorContains(t, c.validate(), "SESSION_CPU_SHARES")
	})

	t.Run("CPUShares 2 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.CPUShares = 2
		assert.NoError(t, c.validate())
	})

	t.Run("PidsLimit 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.PidsLimit = 0
		assert.ErrorContains(t, c.validate(), "SESSION_PIDS_LIMIT")
	})

	t.Run("JWT TTL 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.TTL = 0
		assert.ErrorContains(t, c.validate(), "JWT_TTL")
	})

	t.Run("JWT TTL negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.TTL = -time.Minute
		assert.ErrorContains(t, c.validate(), "JWT_TTL")
	})

	t.Run("ReadTimeout 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.ReadTimeout = 0
		assert.ErrorContains(t, c.validate(), "CLAWD_SERVER_READ_TIMEOUT")
	})

	t.Run("WriteTimeout 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.WriteTimeout = 0
		assert.ErrorContains(t, c.validate(), "CLAWD_SERVER_WRITE_TIMEOUT")
	})

	t.Run("empty StorePath fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.StorePath = ""
		assert.ErrorContains(t, c.validate(), "SESSION_STORE_PATH")
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
