package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Printer   PrinterConfig   `yaml:"printer"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Auth      AuthConfig      `yaml:"auth"`
	Upload    UploadConfig    `yaml:"upload"`
	Mail      MailConfig      `yaml:"mail"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrinterConfig struct {
	Name           string        `yaml:"name"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type ReconcileConfig struct {
	Interval         time.Duration `yaml:"interval"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	UnclaimedTimeout time.Duration `yaml:"unclaimed_timeout"`
}

type AuthConfig struct {
	AdminUsers  []string `yaml:"admin_users"`
	AdminGroups []string `yaml:"admin_groups"`
	RateLimit   int      `yaml:"rate_limit"`
}

type UploadConfig struct {
	Dir        string   `yaml:"dir"`
	MaxSizeMB  int64    `yaml:"max_size_mb"`
	Extensions []string `yaml:"extensions"`
}

type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	SMTPUser string `yaml:"smtp_user"`
	SMTPPass string `yaml:"smtp_pass"`
}

type ArchiveConfig struct {
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"`
	Interval      time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printhold.db",
		},
		Printer: PrinterConfig{
			Name:           "HP_Smart_Tank_515",
			CommandTimeout: 10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:         15 * time.Second,
			GracePeriod:      30 * time.Second,
			UnclaimedTimeout: 24 * time.Hour,
		},
		Auth: AuthConfig{
			AdminUsers:  []string{"admin"},
			AdminGroups: []string{"admins", "print-admins"},
			RateLimit:   100,
		},
		Upload: UploadConfig{
			Dir:        "./data/uploads",
			MaxSizeMB:  50,
			Extensions: []string{"pdf", "png", "jpg", "jpeg", "docx", "doc", "txt"},
		},
		Mail: MailConfig{
			SMTPPort: 587,
		},
		Archive: ArchiveConfig{
			Path:          "./data/archives",
			RetentionDays: 30,
			Interval:      6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRINTHOLD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTHOLD_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTHOLD_PRINTER_NAME"); v != "" {
		c.Printer.Name = v
	}

	if v := os.Getenv("PRINTHOLD_ADMIN_USERS"); v != "" {
		c.Auth.AdminUsers = strings.Split(v, ",")
	}

	if v := os.Getenv("PRINTHOLD_ADMIN_GROUPS"); v != "" {
		c.Auth.AdminGroups = strings.Split(v, ",")
	}

	if v := os.Getenv("PRINTHOLD_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			c.Auth.RateLimit = limit
		}
	}

	if v := os.Getenv("PRINTHOLD_UNCLAIMED_TIMEOUT_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Reconcile.UnclaimedTimeout = time.Duration(hours) * time.Hour
		}
	}

	if v := os.Getenv("PRINTHOLD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Printer.Name == "" {
		return fmt.Errorf("printer name is required")
	}

	if c.Printer.CommandTimeout <= 0 {
		return fmt.Errorf("printer command timeout must be positive")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}

	if c.Reconcile.GracePeriod < c.Reconcile.Interval {
		return fmt.Errorf("grace period must be at least one reconcile interval")
	}

	if c.Reconcile.UnclaimedTimeout <= 0 {
		return fmt.Errorf("unclaimed timeout must be positive")
	}

	if c.Auth.RateLimit < 1 {
		return fmt.Errorf("rate limit must be at least 1")
	}

	if c.Upload.MaxSizeMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}

	if len(c.Upload.Extensions) == 0 {
		return fmt.Errorf("at least one upload extension is required")
	}

	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("archive retention days must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
