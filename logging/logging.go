// Package logging configures zerolog for framework components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/envconfig"
)

// Config controls the global logger output.
type Config struct {
	Level   string `env:"ATELIER_LOG_LEVEL" envDefault:"info"`
	Format  string `env:"ATELIER_LOG_FORMAT" envDefault:"json"`
	Enabled bool   `env:"ATELIER_LOG_ENABLED" envDefault:"true"`
}

// Configure initializes the root logger from config. Console format is for
// local development; production output stays JSON.
func Configure(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if !cfg.Enabled {
		output = io.Discard
	} else if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// ConfigureFromEnv reads Config from the environment and configures the
// root logger with it.
func ConfigureFromEnv() zerolog.Logger {
	var cfg Config
	envconfig.MustLoad(&cfg)
	return Configure(cfg)
}

// New returns a namespaced logger carrying a fresh execution id, so all
// entries emitted during one invocation can be correlated.
func New(namespace string) zerolog.Logger {
	return ConfigureFromEnv().With().
		Str("namespace", namespace).
		Str("execution_id", uuid.NewString()).
		Logger()
}
