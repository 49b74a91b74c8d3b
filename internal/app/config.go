package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/promptbridge-backend/internal/data/db"
	"github.com/yungbote/promptbridge-backend/internal/http/middleware"
	"github.com/yungbote/promptbridge-backend/internal/observability"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/envutil"
	"github.com/yungbote/promptbridge-backend/internal/platform/namelock"
)

type Config struct {
	LogMode        string   `yaml:"log_mode"`
	Port           string   `yaml:"port"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MetricsEnabled bool     `yaml:"metrics_enabled"`

	Bubble bubble.Config            `yaml:"bubble"`
	Redis  namelock.RedisConfig     `yaml:"redis"`
	DB     db.Config                `yaml:"db"`
	Otel   observability.OtelConfig `yaml:"otel"`
}

func (c Config) Development() bool {
	return strings.EqualFold(c.LogMode, "development")
}

// LoadConfig reads the environment, then overlays the YAML file named by
// CONFIG_PATH when set. Keys present in the file win.
func LoadConfig() (Config, error) {
	cfg := configFromEnv()
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Bubble = cfg.Bubble.Normalize()
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = middleware.DefaultAllowedOrigins
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := bubble.ValidateConfig(c.Bubble); err != nil {
		return fmt.Errorf("bubble config: %w", err)
	}
	if c.APIKey == "" && !c.Development() {
		return fmt.Errorf("API_KEY is required outside development")
	}
	return nil
}

func configFromEnv() Config {
	return Config{
		LogMode:        envutil.String("LOG_MODE", "development"),
		Port:           envutil.String("PORT", "8080"),
		APIKey:         strings.TrimSpace(os.Getenv("API_KEY")),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		MetricsEnabled: observability.Enabled(),
		Bubble:         bubble.ConfigFromEnv(),
		Redis:          namelock.RedisConfigFromEnv(),
		DB:             db.ConfigFromEnv(),
		Otel:           observability.OtelConfigFromEnv(),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
