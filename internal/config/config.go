package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	Host               string `yaml:"host"` // empty = DOCKER_HOST / default socket
	APITimeoutSeconds  int    `yaml:"api_timeout_seconds"`
	StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
}

type SandboxConfig struct {
	Image               string            `yaml:"image"`
	Network             string            `yaml:"network"`
	BridgePort          int               `yaml:"bridge_port"`
	CPULimit            float64           `yaml:"cpu_limit"`
	MemLimitMB          int               `yaml:"mem_limit_mb"`
	PidsLimit           int               `yaml:"pids_limit"`
	TmpfsSizeMB         int               `yaml:"tmpfs_size_mb"`
	WorkspaceQuotaMB    int               `yaml:"workspace_quota_mb"`
	ReadyTimeoutSeconds int               `yaml:"ready_timeout_seconds"`
	Env                 map[string]string `yaml:"env"` // static env for every container
}

type QuotaConfig struct {
	MaxSessions         int `yaml:"max_sessions"`
	MaxSessionsPerOwner int `yaml:"max_sessions_per_owner"`
}

type LifecycleConfig struct {
	IdlePauseMinutes     int  `yaml:"idle_pause_minutes"`
	DestroyStoppedHours  int  `yaml:"destroy_stopped_hours"`
	SweepIntervalSeconds int  `yaml:"sweep_interval_seconds"`
	RetainRemoved        bool `yaml:"retain_removed"`
}

type HealthConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
	MaxConcurrent       int `yaml:"max_concurrent"`
}

type Config struct {
	Listen       string `yaml:"listen"`
	ServiceToken string `yaml:"service_token"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`

	Engine    EngineConfig    `yaml:"engine"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Quota     QuotaConfig     `yaml:"quota"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Health    HealthConfig    `yaml:"health"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:   "127.0.0.1:8080",
		DBPath:   "./teledocker.db",
		LogLevel: "info",
		Engine: EngineConfig{
			APITimeoutSeconds:  30,
			StopTimeoutSeconds: 10,
		},
		Sandbox: SandboxConfig{
			Image:               "teledocker/agent:latest",
			Network:             "teledocker-net",
			BridgePort:          9100,
			CPULimit:            1.0,
			MemLimitMB:          2048,
			PidsLimit:           256,
			TmpfsSizeMB:         256,
			WorkspaceQuotaMB:    2048,
			ReadyTimeoutSeconds: 30,
			Env:                 make(map[string]string),
		},
		Quota: QuotaConfig{
			MaxSessions:         20,
			MaxSessionsPerOwner: 1,
		},
		Lifecycle: LifecycleConfig{
			IdlePauseMinutes:     30,
			DestroyStoppedHours:  24,
			SweepIntervalSeconds: 60,
			RetainRemoved:        false,
		},
		Health: HealthConfig{
			IntervalSeconds:     30,
			ProbeTimeoutSeconds: 5,
			MaxConcurrent:       10,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}
	if c.Sandbox.CPULimit <= 0 {
		return fmt.Errorf("sandbox.cpu_limit must be positive, got %v", c.Sandbox.CPULimit)
	}
	if c.Sandbox.MemLimitMB <= 0 {
		return fmt.Errorf("sandbox.mem_limit_mb must be positive, got %d", c.Sandbox.MemLimitMB)
	}
	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got %d", c.Sandbox.PidsLimit)
	}
	if c.Sandbox.BridgePort < 1 || c.Sandbox.BridgePort > 65535 {
		return fmt.Errorf("sandbox.bridge_port out of range: %d", c.Sandbox.BridgePort)
	}
	if c.Quota.MaxSessions <= 0 {
		return fmt.Errorf("quota.max_sessions must be positive, got %d", c.Quota.MaxSessions)
	}
	if c.Quota.MaxSessionsPerOwner <= 0 {
		return fmt.Errorf("quota.max_sessions_per_owner must be positive, got %d", c.Quota.MaxSessionsPerOwner)
	}
	if c.Quota.MaxSessionsPerOwner > c.Quota.MaxSessions {
		return fmt.Errorf("quota.max_sessions_per_owner (%d) exceeds quota.max_sessions (%d)",
			c.Quota.MaxSessionsPerOwner, c.Quota.MaxSessions)
	}
	if c.Lifecycle.IdlePauseMinutes <= 0 {
		return fmt.Errorf("lifecycle.idle_pause_minutes must be positive, got %d", c.Lifecycle.IdlePauseMinutes)
	}
	if c.Lifecycle.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("lifecycle.sweep_interval_seconds must be positive, got %d", c.Lifecycle.SweepIntervalSeconds)
	}
	if c.Health.IntervalSeconds <= 0 {
		return fmt.Errorf("health.interval_seconds must be positive, got %d", c.Health.IntervalSeconds)
	}
	return nil
}

// SlogLevel maps log_level to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEDOCKER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TELEDOCKER_SERVICE_TOKEN"); v != "" {
		cfg.ServiceToken = v
	}
	if v := os.Getenv("TELEDOCKER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TELEDOCKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEDOCKER_ENGINE_HOST"); v != "" {
		cfg.Engine.Host = v
	}
	if v := os.Getenv("TELEDOCKER_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("TELEDOCKER_NETWORK"); v != "" {
		cfg.Sandbox.Network = v
	}
	if v := os.Getenv("TELEDOCKER_BRIDGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.BridgePort = n
		}
	}
	if v := os.Getenv("TELEDOCKER_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sandbox.CPULimit = f
		}
	}
	if v := os.Getenv("TELEDOCKER_MEM_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.MemLimitMB = n
		}
	}
	if v := os.Getenv("TELEDOCKER_PIDS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.PidsLimit = n
		}
	}
	if v := os.Getenv("TELEDOCKER_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.MaxSessions = n
		}
	}
	if v := os.Getenv("TELEDOCKER_MAX_SESSIONS_PER_OWNER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.MaxSessionsPerOwner = n
		}
	}
	if v := os.Getenv("TELEDOCKER_IDLE_PAUSE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.IdlePauseMinutes = n
		}
	}
	if v := os.Getenv("TELEDOCKER_DESTROY_STOPPED_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.DestroyStoppedHours = n
		}
	}
	if v := os.Getenv("TELEDOCKER_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.SweepIntervalSeconds = n
		}
	}
	if v := os.Getenv("TELEDOCKER_RETAIN_REMOVED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Lifecycle.RetainRemoved = b
		}
	}
	if v := os.Getenv("TELEDOCKER_HEALTH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.IntervalSeconds = n
		}
	}
}
