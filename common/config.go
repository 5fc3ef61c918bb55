package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
)

type Config struct {
	ListenAddr       string `json:"listen_addr"`
	PublicURL        string `json:"public_url"`
	DatabaseURL      string `json:"database_url"`
	GraphDatabaseURL string `json:"graph_database_url"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisPrefix   string `json:"redis_prefix"`

	StripeSecretKey     string `json:"stripe_secret_key"`
	StripeWebhookSecret string `json:"stripe_webhook_secret"`

	JWTSecret           string `json:"jwt_secret"`
	JWTIssuer           string `json:"jwt_issuer"`
	AccessTokenTTLHours int    `json:"access_token_ttl_hours"`
	RefreshTokenTTLDays int    `json:"refresh_token_ttl_days"`

	PlansFile string `json:"plans_file"`
}

func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	// Load config (JSON + env overrides)
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = DEFAULT_CONFIG_FILE
	}

	if !strings.HasPrefix(configPath, "/") && dir != "" {
		configPath = path.Join(dir, configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		fileCfg, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.applyConfigOverrides(fileCfg)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			dec := json.NewDecoder(f)
			_ = dec.Decode(&cfg) // ignore error, fallback to env/defaults
		}
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          DEFAULT_LISTEN_ADDR,
		PublicURL:           DEFAULT_PUBLIC_URL,
		RedisAddr:           DEFAULT_REDIS_ADDR,
		RedisPassword:       DEFAULT_REDIS_PASSWORD,
		RedisPrefix:         DEFAULT_REDIS_PREFIX,
		JWTIssuer:           DEFAULT_JWT_ISSUER,
		AccessTokenTTLHours: DEFAULT_ACCESS_TOKEN_TTL_HOURS,
		RefreshTokenTTLDays: DEFAULT_REFRESH_TOKEN_TTL_DAYS,
		PlansFile:           DEFAULT_PLANS_FILE,
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GRAPH_DATABASE_URL"); v != "" {
		c.GraphDatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		c.RedisPrefix = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		c.StripeSecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.StripeWebhookSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		c.JWTIssuer = v
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL_HOURS"); v != "" {
		c.AccessTokenTTLHours = atoiOrDefault(v, c.AccessTokenTTLHours)
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL_DAYS"); v != "" {
		c.RefreshTokenTTLDays = atoiOrDefault(v, c.RefreshTokenTTLDays)
	}
	if v := os.Getenv("PLANS_FILE"); v != "" {
		c.PlansFile = v
	}
}

func (c *Config) applyConfigOverrides(cfg *Config) {
	if cfg.ListenAddr != "" {
		c.ListenAddr = cfg.ListenAddr
	}
	if cfg.PublicURL != "" {
		c.PublicURL = cfg.PublicURL
	}
	if cfg.DatabaseURL != "" {
		c.DatabaseURL = cfg.DatabaseURL
	}
	if cfg.GraphDatabaseURL != "" {
		c.GraphDatabaseURL = cfg.GraphDatabaseURL
	}
	if cfg.RedisAddr != "" {
		c.RedisAddr = cfg.RedisAddr
	}
	if cfg.RedisPassword != "" {
		c.RedisPassword = cfg.RedisPassword
	}
	if cfg.RedisPrefix != "" {
		c.RedisPrefix = cfg.RedisPrefix
	}
	if cfg.StripeSecretKey != "" {
		c.StripeSecretKey = cfg.StripeSecretKey
	}
	if cfg.StripeWebhookSecret != "" {
		c.StripeWebhookSecret = cfg.StripeWebhookSecret
	}
	if cfg.JWTSecret != "" {
		c.JWTSecret = cfg.JWTSecret
	}
	if cfg.JWTIssuer != "" {
		c.JWTIssuer = cfg.JWTIssuer
	}
	if cfg.AccessTokenTTLHours != 0 {
		c.AccessTokenTTLHours = cfg.AccessTokenTTLHours
	}
	if cfg.RefreshTokenTTLDays != 0 {
		c.RefreshTokenTTLDays = cfg.RefreshTokenTTLDays
	}
	if cfg.PlansFile != "" {
		c.PlansFile = cfg.PlansFile
	}
}

func atoiOrDefault(s string, def int) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return def
	}
	return n
}
