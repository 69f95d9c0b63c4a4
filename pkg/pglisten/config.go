package pglisten

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all necessary configuration for the Postgres listening
// connection.
type Config struct {
	// ConnString is the Postgres connection string.
	ConnString string
	// Channels is the set of notification channels to LISTEN on. Registration
	// is a set, not a sequence: failure to register any one channel aborts
	// the whole connection attempt.
	Channels []string
	// ReconnectDelay is the fixed pause between reconnect attempts. The
	// policy itself is deliberate: a fixed delay with unbounded retries and
	// no backoff. Only the delay is configurable.
	ReconnectDelay time.Duration
}

// DefaultReconnectDelay is the pause between reconnect attempts when none is
// configured.
const DefaultReconnectDelay = 5 * time.Second

// Env constants for listener settings.
const (
	EnvDatabaseURL      = "DATABASE_URL"
	EnvReconnectSeconds = "RECONNECT_SECONDS"
)

// LoadConfigWithEnv loads listener configuration from environment variables,
// applying defaults where unset. Channels are not loaded from the environment
// and must be configured programmatically.
func LoadConfigWithEnv() *Config {
	cfg := &Config{
		ConnString:     os.Getenv(EnvDatabaseURL),
		ReconnectDelay: DefaultReconnectDelay,
	}

	if rs := os.Getenv(EnvReconnectSeconds); rs != "" {
		d, err := time.ParseDuration(rs + "s")
		if err == nil {
			cfg.ReconnectDelay = d
		} else {
			log.Printf("pglisten: error parsing reconnect seconds: %s, using default", err)
		}
	}

	return cfg
}
