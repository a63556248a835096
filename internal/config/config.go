package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvResetTimezone = "USAGE_RESET_TZ"
	EnvResetHour     = "USAGE_RESET_HOUR_LOCAL"
	EnvIPHashSalt    = "IP_HASH_SALT"
	EnvCostTablePath = "COST_TABLE_PATH"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// GuardConfig holds usage guard settings.
type GuardConfig struct {
	ResetTimezone string `yaml:"reset-timezone"`
	ResetHour     int    `yaml:"reset-hour"`
	IPHashSalt    string `yaml:"ip-hash-salt"`
	CostTablePath string `yaml:"cost-table"`
}

// LoadGuardConfig loads usage guard settings from the YAML config file.
// Every field has a safe zero value, so a missing or malformed file
// yields defaults rather than an error.
func LoadGuardConfig(configPath string) (GuardConfig, error) {
	// fileConfig maps the YAML fields needed for guard settings.
	type fileConfig struct {
		Guard GuardConfig `yaml:"guard"`
	}

	var result GuardConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Guard
		}
	}

	if tz := strings.TrimSpace(os.Getenv(EnvResetTimezone)); tz != "" {
		result.ResetTimezone = tz
	}
	if hourRaw := strings.TrimSpace(os.Getenv(EnvResetHour)); hourRaw != "" {
		if hour, errParse := strconv.Atoi(hourRaw); errParse == nil {
			result.ResetHour = hour
		}
	}
	if salt := strings.TrimSpace(os.Getenv(EnvIPHashSalt)); salt != "" {
		result.IPHashSalt = salt
	}
	if costPath := strings.TrimSpace(os.Getenv(EnvCostTablePath)); costPath != "" {
		result.CostTablePath = costPath
	}

	if result.ResetHour < 0 || result.ResetHour > 23 {
		result.ResetHour = 0
	}
	return result, nil
}
