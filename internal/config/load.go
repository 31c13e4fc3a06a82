package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// fileConfig mirrors the TOML layout. Env is a list of KEY=VALUE entries so
// declaration order survives parsing; TOML tables would lose it.
type fileConfig struct {
	Name                string        `mapstructure:"name"`
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	BinaryPath          string        `mapstructure:"binary_path"`
	DataDir             string        `mapstructure:"data_dir"`
	StartupTimeout      time.Duration `mapstructure:"startup_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	AutoRestart         *bool         `mapstructure:"auto_restart"`
	MaxRestartAttempts  uint32        `mapstructure:"max_restart_attempts"`
	Env                 []string      `mapstructure:"env"`
	EnvFiles            []string      `mapstructure:"env_files"`
	Log                 *logConfig    `mapstructure:"log"`
	History             HistoryConfig `mapstructure:"history"`
}

type logConfig struct {
	Dir        string `mapstructure:"dir"`
	Stdout     string `mapstructure:"stdout"`
	Stderr     string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads a TOML config file, folds in env files in order, then applies
// SIDEWATCH_* process-environment overrides. The result is validated by the
// caller (Validate is a pure check, kept separate).
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Name != "" {
		cfg.Name = fc.Name
	}
	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	cfg.BinaryPath = fc.BinaryPath
	cfg.DataDir = fc.DataDir
	if fc.StartupTimeout != 0 {
		cfg.StartupTimeout = fc.StartupTimeout
	}
	if fc.ShutdownTimeout != 0 {
		cfg.ShutdownTimeout = fc.ShutdownTimeout
	}
	if fc.HealthCheckInterval != 0 {
		cfg.HealthCheckInterval = fc.HealthCheckInterval
	}
	if fc.AutoRestart != nil {
		cfg.AutoRestart = *fc.AutoRestart
	}
	if fc.MaxRestartAttempts != 0 {
		cfg.MaxRestartAttempts = fc.MaxRestartAttempts
	}
	if fc.Log != nil {
		cfg.Log.Dir = fc.Log.Dir
		cfg.Log.StdoutPath = fc.Log.Stdout
		cfg.Log.StderrPath = fc.Log.Stderr
		cfg.Log.MaxSizeMB = fc.Log.MaxSizeMB
		cfg.Log.MaxBackups = fc.Log.MaxBackups
		cfg.Log.MaxAgeDays = fc.Log.MaxAgeDays
		cfg.Log.Compress = fc.Log.Compress
	}
	cfg.History = fc.History

	// Env files first, inline env entries afterwards so they win.
	base := filepath.Dir(path)
	for _, ef := range fc.EnvFiles {
		if !filepath.IsAbs(ef) {
			ef = filepath.Join(base, ef)
		}
		if err := applyEnvFile(&cfg, ef); err != nil {
			return cfg, err
		}
	}
	for _, kv := range fc.Env {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return cfg, &ValidationError{Field: "env", Reason: fmt.Sprintf("entry %q is not KEY=VALUE", kv)}
		}
		cfg.SetEnv(k, val)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvFile parses a .env-style file: KEY=VALUE lines, # comments,
// surrounding double quotes stripped from values.
func applyEnvFile(cfg *Config, path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		cfg.SetEnv(k, val)
	}
	return nil
}

// applyEnvOverrides lets the supervisor's own environment override scalar
// settings, mirroring the BACKEND_* variables of the desktop deployments.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("SIDEWATCH_HOST"); s != "" {
		cfg.Host = s
	}
	if s := os.Getenv("SIDEWATCH_PORT"); s != "" {
		if p, err := strconv.Atoi(s); err == nil {
			cfg.Port = p
		}
	}
	if s := os.Getenv("SIDEWATCH_BINARY"); s != "" {
		cfg.BinaryPath = s
	}
	if s := os.Getenv("SIDEWATCH_DATA_DIR"); s != "" {
		cfg.DataDir = s
	}
	if s := os.Getenv("SIDEWATCH_STARTUP_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.StartupTimeout = d
		}
	}
	if s := os.Getenv("SIDEWATCH_SHUTDOWN_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if s := os.Getenv("SIDEWATCH_HEALTH_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.HealthCheckInterval = d
		}
	}
	if s := os.Getenv("SIDEWATCH_AUTO_RESTART"); s != "" {
		cfg.AutoRestart = strings.EqualFold(s, "true")
	}
	if s := os.Getenv("SIDEWATCH_MAX_RESTART_ATTEMPTS"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			cfg.MaxRestartAttempts = uint32(n)
		}
	}
}
