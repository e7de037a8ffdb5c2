package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Store      StoreConfig
	Sweep      SweepConfig
	SignalWire SignalWireConfig
	ClickSend  ClickSendConfig
	Auth       AuthConfig
	Mail       MailConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	ContentMax int
}

type ServerConfig struct {
	Address  string
	LogLevel string
}

// DatabaseConfig is optional; without it accounts and the maintenance flag
// are unavailable.
type DatabaseConfig struct {
	Enabled     bool
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// CacheConfig bounds how long cached settings live in the kv slot.
type CacheConfig struct {
	TTL time.Duration
}

type StoreConfig struct {
	Path     string
	Key      string
	Capacity int
	Grace    time.Duration
}

type SweepConfig struct {
	Interval time.Duration
}

type SignalWireConfig struct {
	SpaceURL  string
	ProjectID string
	APIKey    string
	From      string
}

type ClickSendConfig struct {
	BaseURL  string
	Username string
	APIKey   string
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	ResetTTL   time.Duration
	AdminEmail string
	ResetURL   string
}

type MailConfig struct {
	Enabled   bool
	APIKey    string
	FromEmail string
	FromName  string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// LoadAll reads the configuration from the environment. Every missing or
// malformed variable is reported in the returned error.
func LoadAll() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Address:  getEnv("SERVER_ADDRESS", ":8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: loadDatabaseConfig(),
		Store: StoreConfig{
			Path:     getEnv("STORE_PATH", "./data/gottago.db"),
			Key:      getEnv("STORE_KEY", "scheduled_items"),
			Capacity: l.int("STORE_CAPACITY", 3),
			Grace:    time.Duration(l.int("STORE_GRACE_SECONDS", 300)) * time.Second,
		},
		Sweep: SweepConfig{
			Interval: time.Duration(l.int("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		},
		SignalWire: SignalWireConfig{
			SpaceURL:  l.require("SIGNALWIRE_SPACE_URL"),
			ProjectID: l.require("SIGNALWIRE_PROJECT_ID"),
			APIKey:    l.require("SIGNALWIRE_API_KEY"),
			From:      l.require("SIGNALWIRE_FROM"),
		},
		ClickSend: ClickSendConfig{
			BaseURL:  getEnv("CLICKSEND_BASE_URL", "https://rest.clicksend.com"),
			Username: l.require("CLICKSEND_USERNAME"),
			APIKey:   l.require("CLICKSEND_API_KEY"),
		},
		Mail: loadMailConfig(),
		RateLimit: RateLimitConfig{
			RPS:   l.float("RATE_RPS", 1),
			Burst: l.int("RATE_BURST", 5),
		},
		Cache: CacheConfig{
			TTL: time.Duration(l.int("CACHE_TTL_SECONDS", 60)) * time.Second,
		},
		ContentMax: l.int("CONTENT_MAX", 160),
	}
	cfg.Redis = l.redis()
	cfg.Auth = l.auth(cfg.Database.Enabled)

	l.validate(cfg)

	if err := joinErrors(l.errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	url := os.Getenv("POSTGRES_URL")
	return DatabaseConfig{Enabled: url != "", PostgresURL: url}
}

func loadMailConfig() MailConfig {
	key := os.Getenv("SENDGRID_API_KEY")
	return MailConfig{
		Enabled:   key != "",
		APIKey:    key,
		FromEmail: getEnv("SENDGRID_FROM_EMAIL", "no-reply@gottago.app"),
		FromName:  getEnv("SENDGRID_FROM_NAME", "Gotta Go"),
	}
}

type loader struct {
	errs []error
}

func (l *loader) redis() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       l.int("REDIS_DB", 0),
	}
}

func (l *loader) auth(required bool) AuthConfig {
	cfg := AuthConfig{
		JWTSecret:  os.Getenv("JWT_SECRET"),
		TokenTTL:   time.Duration(l.int("JWT_TTL_SECONDS", 7*24*3600)) * time.Second,
		ResetTTL:   time.Duration(l.int("RESET_TTL_SECONDS", 3600)) * time.Second,
		AdminEmail: strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
		ResetURL:   getEnv("RESET_URL", "https://gottago.app/reset-password"),
	}
	if required && cfg.JWTSecret == "" {
		l.errs = append(l.errs, errors.New("missing required env var: JWT_SECRET (needed when POSTGRES_URL is set)"))
	}
	return cfg
}

func (l *loader) validate(cfg *Config) {
	if cfg.Store.Capacity <= 0 {
		l.errs = append(l.errs, errors.New("STORE_CAPACITY must be > 0"))
	}
	if cfg.Store.Grace <= 0 {
		l.errs = append(l.errs, errors.New("STORE_GRACE_SECONDS must be > 0"))
	}
	if cfg.Sweep.Interval <= 0 {
		l.errs = append(l.errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.ContentMax <= 0 {
		l.errs = append(l.errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.RateLimit.RPS < 0 {
		l.errs = append(l.errs, errors.New("RATE_RPS must be >= 0"))
	}
	if cfg.RateLimit.Burst <= 0 {
		l.errs = append(l.errs, errors.New("RATE_BURST must be > 0"))
	}
	if cfg.Cache.TTL <= 0 {
		l.errs = append(l.errs, errors.New("CACHE_TTL_SECONDS must be > 0"))
	}
	if cfg.Auth.TokenTTL <= 0 {
		l.errs = append(l.errs, errors.New("JWT_TTL_SECONDS must be > 0"))
	}
}

func (l *loader) require(key string) string {
	v, err := requireEnv(key)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) int(key string, def int) int {
	v, err := getEnvInt(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) float(key string, def float64) float64 {
	v, err := getEnvFloat(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid float for env %s: %q", key, v)
	}
	return f, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
