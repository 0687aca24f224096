// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env always wins so container deployments can
// tune a baked-in config file.
package config

import (
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port         string   `yaml:"port"`
	DatabaseURL  string   `yaml:"databaseUrl"`
	RedisURL     string   `yaml:"redisUrl"`
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	KafkaTopic   string   `yaml:"kafkaTopic"`

	// Optimizer defaults applied when a request omits them.
	DefaultTaxRate float64 `yaml:"defaultTaxRate"`
	MaxPasses      int     `yaml:"maxPasses"`
	MaxEvals       int     `yaml:"maxEvals"`

	// Rate limit for POST /v1/optimize, per tenant.
	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	WebhookMaxAttempts int `yaml:"webhookMaxAttempts"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Port:           "8080",
		KafkaTopic:     "cart.optimized",
		DefaultTaxRate: 0.0825,
		MaxEvals:       10000,
		RateRPS:        5,
		RateBurst:      10,
	}
}

// Load reads CONFIG_FILE if set, then applies env overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("DEFAULT_TAX_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultTaxRate = f
		}
	}
	if v := os.Getenv("OPT_MAX_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPasses = n
		}
	}
	if v := os.Getenv("OPT_MAX_EVALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEvals = n
		}
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebhookMaxAttempts = n
		}
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
