package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string  `yaml:"port"`
	AllowedOrigin         string  `yaml:"allowed_origin"`
	DatabaseURL           string  `yaml:"database_url"`
	RedisAddr             string  `yaml:"redis_addr"`
	RedisPassword         string  `yaml:"redis_password"`
	RedisDB               int     `yaml:"redis_db"`
	SessionTTLMinutes     int     `yaml:"session_ttl_minutes"`
	AuthSecret            string  `yaml:"auth_secret"`
	AccessTokenTTLMinutes int     `yaml:"access_token_ttl_minutes"`
	ManagerPIN            string  `yaml:"manager_pin"`
	AdminPassword         string  `yaml:"admin_password"`
	ManagerPassword       string  `yaml:"manager_password"`
	CashierPassword       string  `yaml:"cashier_password"`
	TaxMode               string  `yaml:"tax_mode"`
	TaxRatePercent        float64 `yaml:"tax_rate_percent"`
	LogLevel              string  `yaml:"log_level"`
	LogFormat             string  `yaml:"log_format"`
}

func Defaults() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "http://localhost:5173",
		SessionTTLMinutes:     720,
		AccessTokenTTLMinutes: 720,
		TaxMode:               "percentage",
		TaxRatePercent:        8,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load layers defaults, the optional YAML file at path and the environment,
// in that order. An empty path falls back to CONFIG_FILE.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.AuthSecret = getEnv("AUTH_SECRET", cfg.AuthSecret)
	cfg.ManagerPIN = getEnv("MANAGER_PIN", cfg.ManagerPIN)
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.ManagerPassword = getEnv("MANAGER_PASSWORD", cfg.ManagerPassword)
	cfg.CashierPassword = getEnv("CASHIER_PASSWORD", cfg.CashierPassword)
	cfg.TaxMode = getEnv("TAX_MODE", cfg.TaxMode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return err
	}
	if cfg.SessionTTLMinutes, err = getEnvInt("SESSION_TTL_MINUTES", cfg.SessionTTLMinutes); err != nil {
		return err
	}
	if cfg.AccessTokenTTLMinutes, err = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes); err != nil {
		return err
	}
	if raw := os.Getenv("TAX_RATE_PERCENT"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("TAX_RATE_PERCENT: %w", err)
		}
		cfg.TaxRatePercent = rate
	}
	return nil
}

// Validate checks the values the server cannot start without. Auth secret
// and PIN strength are checked by the server command itself.
func (c Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("port %q is not a valid TCP port", c.Port))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("redis db must not be negative"))
	}
	if c.SessionTTLMinutes < 1 {
		errs = append(errs, errors.New("session ttl must be at least one minute"))
	}
	if c.AccessTokenTTLMinutes < 1 {
		errs = append(errs, errors.New("access token ttl must be at least one minute"))
	}
	switch strings.ToLower(c.TaxMode) {
	case "percentage", "none":
	default:
		errs = append(errs, fmt.Errorf("tax mode %q must be percentage or none", c.TaxMode))
	}
	if c.TaxRatePercent < 0 || c.TaxRatePercent > 100 {
		errs = append(errs, fmt.Errorf("tax rate %v must be between 0 and 100", c.TaxRatePercent))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q must be json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
