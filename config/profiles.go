package config

import (
	"fmt"
	"time"

	"playkit/adapters/sqlx"
)

// Profiles lists the built-in profile names.
var Profiles = []string{"development", "testing", "staging", "production"}

// Profile returns the defaults of a named profile without env overrides.
func Profile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"

	case "testing":
		cfg.Environment = EnvTesting
		cfg.Storage.Adapter = "memory"
		cfg.Logging.Level = "warn"
		cfg.Logging.Format = "text"
		cfg.Logging.Output = "stderr"
		cfg.Server.Address = "127.0.0.1:0"
		cfg.Server.ShutdownTimeout = 5 * time.Second
		cfg.Features.TickInterval = 50 * time.Millisecond

	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Security.EnableRateLimit = true
		cfg.Logging.Attributes = map[string]string{"env": "staging"}

	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverSQLite)
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Logging.Attributes = map[string]string{"env": "production"}

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}

// LoadProfile loads a named profile, applies environment overrides and
// validates the result.
func LoadProfile(name string) (*Config, error) {
	cfg, err := Profile(name)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}
