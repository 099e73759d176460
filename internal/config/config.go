// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"portfolio.db"`
	ContentFile  string `env:"CONTENT_FILE"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	TrackOutbound    bool          `env:"TRACK_OUTBOUND" envDefault:"true"`
	HashSalt         string        `env:"HASH_SALT"`
	VisitorRetention time.Duration `env:"VISITOR_RETENTION" envDefault:"8760h"`
	CleanupSchedule  string        `env:"CLEANUP_SCHEDULE" envDefault:"@daily"`

	ProxyTimeout   time.Duration `env:"PROXY_TIMEOUT" envDefault:"30s"`
	TrustedProxies []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// AdminEnabled reports whether admin credentials are configured.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

func (c Config) Addr() string {
	return ":" + c.Port
}

// Load reads the given .env files (missing files are ignored) and then
// parses the environment. Variables already set win over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.VisitorRetention <= 0 {
		return Config{}, fmt.Errorf("VISITOR_RETENTION must be positive, got %s", cfg.VisitorRetention)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}
	return cfg, nil
}
