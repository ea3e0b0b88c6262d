// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port     string `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	SamplePeriod      time.Duration `yaml:"sample_period"`
	HistoryLimit      int           `yaml:"history_limit"`
	DefaultSource     string        `yaml:"default_source"`
	FallbackSimulated bool          `yaml:"fallback_simulated"`
	SimSeed           uint64        `yaml:"sim_seed"`

	Bridge    BridgeConfig    `yaml:"bridge"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Notify    NotifyConfig    `yaml:"notify"`

	GRPCHealthAddr string   `yaml:"grpc_health_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BridgeConfig configures the desktop analyzer bridge.
type BridgeConfig struct {
	URL       string        `yaml:"url"`
	Reconnect time.Duration `yaml:"reconnect"`
}

// BluetoothConfig configures the EEG headband discovery.
type BluetoothConfig struct {
	NamePrefix string        `yaml:"name_prefix"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotifyConfig controls distraction alerts.
type NotifyConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	Threshold      int           `yaml:"threshold"`
	Desktop        bool          `yaml:"desktop"`
	DiscordWebhook string        `yaml:"discord_webhook"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:              "8787",
		DBPath:            "./data/focus.db",
		LogLevel:          "info",
		SamplePeriod:      time.Second,
		HistoryLimit:      300,
		DefaultSource:     "simulated",
		FallbackSimulated: true,
		Bridge: BridgeConfig{
			URL:       "ws://localhost:6969",
			Reconnect: 5 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			NamePrefix: "Muse",
			Timeout:    20 * time.Second,
		},
		Notify: NotifyConfig{
			Cooldown:  60 * time.Second,
			Threshold: 40,
			Desktop:   true,
		},
		GRPCHealthAddr: ":8788",
		AllowedOrigins: []string{"*"},
	}
}

// Load reads configuration from FOCUS_CONFIG_FILE (if set) and then from
// environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("FOCUS_CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Port = getEnv("FOCUS_PORT", c.Port)
	c.DBPath = getEnv("FOCUS_DB_PATH", c.DBPath)
	c.LogLevel = getEnv("FOCUS_LOG_LEVEL", c.LogLevel)
	c.SamplePeriod = getEnvDuration("FOCUS_SAMPLE_PERIOD", c.SamplePeriod)
	c.HistoryLimit = getEnvInt("FOCUS_HISTORY_LIMIT", c.HistoryLimit)
	c.DefaultSource = getEnv("FOCUS_DEFAULT_SOURCE", c.DefaultSource)
	c.FallbackSimulated = getEnvBool("FOCUS_FALLBACK_SIMULATED", c.FallbackSimulated)
	c.SimSeed = getEnvUint("FOCUS_SIM_SEED", c.SimSeed)
	c.Bridge.URL = getEnv("FOCUS_BRIDGE_URL", c.Bridge.URL)
	c.Bridge.Reconnect = getEnvDuration("FOCUS_BRIDGE_RECONNECT", c.Bridge.Reconnect)
	c.Bluetooth.NamePrefix = getEnv("FOCUS_BLE_NAME_PREFIX", c.Bluetooth.NamePrefix)
	c.Bluetooth.Timeout = getEnvDuration("FOCUS_BLE_TIMEOUT", c.Bluetooth.Timeout)
	c.Notify.Cooldown = getEnvDuration("FOCUS_NOTIFY_COOLDOWN", c.Notify.Cooldown)
	c.Notify.Threshold = getEnvInt("FOCUS_NOTIFY_THRESHOLD", c.Notify.Threshold)
	c.Notify.Desktop = getEnvBool("FOCUS_DESKTOP_NOTIFY", c.Notify.Desktop)
	c.Notify.DiscordWebhook = getEnv("FOCUS_DISCORD_WEBHOOK", c.Notify.DiscordWebhook)
	c.GRPCHealthAddr = getEnv("FOCUS_GRPC_HEALTH_ADDR", c.GRPCHealthAddr)
	if v, ok := os.LookupEnv("FOCUS_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("FOCUS_PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("FOCUS_DB_PATH cannot be empty")
	}
	if c.SamplePeriod <= 0 {
		return errors.New("FOCUS_SAMPLE_PERIOD must be > 0")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("FOCUS_HISTORY_LIMIT must be > 0")
	}
	switch c.DefaultSource {
	case "simulated", "bluetooth", "bridge":
	default:
		return fmt.Errorf("FOCUS_DEFAULT_SOURCE %q is not one of simulated, bluetooth, bridge", c.DefaultSource)
	}
	if c.Bridge.URL == "" {
		return errors.New("FOCUS_BRIDGE_URL cannot be empty")
	}
	if !strings.HasPrefix(c.Bridge.URL, "ws://") && !strings.HasPrefix(c.Bridge.URL, "wss://") {
		return fmt.Errorf("FOCUS_BRIDGE_URL %q must use ws:// or wss://", c.Bridge.URL)
	}
	if c.Bridge.Reconnect <= 0 {
		return errors.New("FOCUS_BRIDGE_RECONNECT must be > 0")
	}
	if c.Bluetooth.Timeout <= 0 {
		return errors.New("FOCUS_BLE_TIMEOUT must be > 0")
	}
	if c.Notify.Cooldown < 0 {
		return errors.New("FOCUS_NOTIFY_COOLDOWN cannot be negative")
	}
	if c.Notify.Threshold < 0 || c.Notify.Threshold > 100 {
		return errors.New("FOCUS_NOTIFY_THRESHOLD must be within 0..100")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("FOCUS_ALLOWED_ORIGINS cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("FOCUS_LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvUint(key string, fallback uint64) uint64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
