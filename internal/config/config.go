package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18790
	DefaultBufSize         = 100
	DefaultAnalysisLatency = "2s"
	DefaultMonitorInterval = "5s"
	DefaultDigestSchedule  = "0 0 8 * * *"
	DefaultLogLevel        = "info"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Analysis AnalysisConfig `json:"analysis"`
	Monitor  MonitorConfig  `json:"monitor"`
	Digest   DigestConfig   `json:"digest"`
	Log      LogConfig      `json:"log"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type AnalysisConfig struct {
	Latency      string   `json:"latency"`
	AllowedTypes []string `json:"allowedTypes"`
	ProfilesPath string   `json:"profilesPath,omitempty"` // YAML profile table override
}

type MonitorConfig struct {
	Enabled  bool     `json:"enabled"`
	Interval string   `json:"interval"`
	Channels []string `json:"channels"`
}

type DigestConfig struct {
	Schedule string `json:"schedule"` // 6-field cron expression, seconds first
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" (default) or "console"
}

// LatencyDuration parses Analysis.Latency, falling back to the default.
func (c AnalysisConfig) LatencyDuration() time.Duration {
	return parseDuration(c.Latency, DefaultAnalysisLatency)
}

// IntervalDuration parses Monitor.Interval, falling back to the default.
func (c MonitorConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, DefaultMonitorInterval)
}

func parseDuration(v, fallback string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Analysis: AnalysisConfig{
			Latency:      DefaultAnalysisLatency,
			AllowedTypes: []string{"pdf", "png", "jpg", "jpeg"},
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: DefaultMonitorInterval,
			Channels: []string{"webui"},
		},
		Digest: DigestConfig{
			Schedule: DefaultDigestSchedule,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: LogFormatJSON,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".vitalsense")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if host := os.Getenv("VITALSENSE_HOST"); host != "" {
		cfg.Gateway.Host = host
	}
	if port := os.Getenv("VITALSENSE_PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("parse VITALSENSE_PORT: %w", err)
		}
		cfg.Gateway.Port = parsed
	}
	if token := os.Getenv("VITALSENSE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if level := os.Getenv("VITALSENSE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("VITALSENSE_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	if latency := os.Getenv("VITALSENSE_ANALYSIS_LATENCY"); latency != "" {
		cfg.Analysis.Latency = latency
	}
	if path := os.Getenv("VITALSENSE_PROFILES_PATH"); path != "" {
		cfg.Analysis.ProfilesPath = path
	}
	if interval := os.Getenv("VITALSENSE_MONITOR_INTERVAL"); interval != "" {
		cfg.Monitor.Interval = interval
	}
	if enabled := os.Getenv("VITALSENSE_MONITOR_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Monitor.Enabled = parsed
		}
	}

	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if len(cfg.Analysis.AllowedTypes) == 0 {
		cfg.Analysis.AllowedTypes = DefaultConfig().Analysis.AllowedTypes
	}
	if cfg.Digest.Schedule == "" {
		cfg.Digest.Schedule = DefaultDigestSchedule
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
