package database

import (
	"os"
	"strconv"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// LoadConfigFromEnv reads connection settings from DB_* environment
// variables. Only DB_PASSWORD has no default; the rest fall back to a
// local development database. Pool size errors are treated as fatal
// rather than silently defaulted so a typo in an ops manifest surfaces
// at startup.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            envOr("DB_HOST", "localhost"),
		User:            envOr("DB_USER", "orchestrad"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        envOr("DB_NAME", "orchestrad"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	var err error
	if cfg.Port, err = envInt("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.MaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindValidation, err, "invalid %s", key)
	}
	return n, nil
}
