// Package config loads the master process's configuration from
// environment variables, following the same getEnv*/validate() shape as
// the rest of this codebase's services.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all master-process configuration loaded from environment
// variables.
type Config struct {
	Server    ServerConfig
	Docker    DockerConfig
	Session   SessionConfig
	JWT       JWTConfig
	Slack     SlackConfig
	StorePath string
}

// ServerConfig holds HTTP/WS listener settings.
type ServerConfig struct {
	Host           string
	Port           int
	InstanceID     string
	MasterHostname string // how in-container agents dial back to the internal hub
	CORSOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DockerConfig holds container runtime settings for the Container Manager.
type DockerConfig struct {
	Host            string
	Network         string
	SessionImage    string
	HostDrivePrefix string // Windows host path translation, e.g. "/host_mnt"
}

// SessionConfig holds per-session resource limits and the global session
// cap.
type SessionConfig struct {
	MemoryLimit string
	CPUShares   int64
	PidsLimit   int64
	MaxSessions int
}

// JWTConfig holds client-facing bearer token settings.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
	TTL    time.Duration
}

// SlackConfig holds push-notification Slack integration settings.
type SlackConfig struct {
	BotToken string
	Channel  string
	Enabled  bool
}

// Load reads configuration from environment variables. Defaults are safe
// for local development only; JWT_SECRET has no default and must always
// be set.
func Load() (*Config, error) {
	port, err := getEnvInt("CLAWD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cpuShares, err := getEnvInt64("SESSION_CPU_SHARES", 1024)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pidsLimit, err := getEnvInt64("SESSION_PIDS_LIMIT", 512)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxSessions, err := getEnvInt("MAX_SESSIONS", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	jwtTTL, err := getEnvDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("CLAWD_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("CLAWD_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("CLAWD_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("CLAWD_HOST", "0.0.0.0"),
			Port:           port,
			InstanceID:     getEnv("CLAWD_INSTANCE_ID", "default"),
			MasterHostname: getEnv("CLAWD_MASTER_HOSTNAME", "host.docker.internal"),
			CORSOrigins:    corsOrigins,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
		},
		Docker: DockerConfig{
			Host:            getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"),
			Network:         getEnv("CLAWD_NETWORK", "clawd"),
			SessionImage:    getEnv("CLAWD_SESSION_IMAGE", "ghcr.io/clawd/session-agent:latest"),
			HostDrivePrefix: getEnv("HOST_DRIVE_PREFIX", ""),
		},
		Session: SessionConfig{
			MemoryLimit: getEnv("SESSION_MEMORY_LIMIT", "2g"),
			CPUShares:   cpuShares,
			PidsLimit:   pidsLimit,
			MaxSessions: maxSessions,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    jwtTTL,
		},
		Slack: SlackConfig{
			BotToken: getEnv("SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("SLACK_NOTIFY_CHANNEL", ""),
			Enabled:  getEnv("SLACK_BOT_TOKEN", "") != "" && getEnv("SLACK_NOTIFY_CHANNEL", "") != "",
		},
		StorePath: getEnv("SESSION_STORE_PATH", "./data/sessions.json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("CLAWD_PORT must be 1-65535, got %d", c.Server.Port)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("MAX_SESSIONS must be >= 1, got %d", c.Session.MaxSessions)
	}
	if c.Session.CPUShares < 2 {
		return fmt.Errorf("SESSION_CPU_SHARES must be >= 2, got %d", c.Session.CPUShares)
	}
	if c.Session.PidsLimit < 1 {
		return fmt.Errorf("SESSION_PIDS_LIMIT must be >= 1, got %d", c.Session.PidsLimit)
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWT.TTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CLAWD_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("CLAWD_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.StorePath == "" {
		return errors.New("SESSION_STORE_PATH must not be empty")
	}

	if c.Docker.Network == "" {
		log.Warn().Msg("CLAWD_NETWORK is empty; session containers will join the Docker default bridge")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int64: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
