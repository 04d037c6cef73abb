package logging_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/atelierhq/atelier/logging"
)

func TestConfigure_SetsGlobalLevel(t *testing.T) {
	logging.Configure(logging.Config{Level: "debug", Format: "json", Enabled: true})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestConfigure_InvalidLevelFallsBackToInfo(t *testing.T) {
	logging.Configure(logging.Config{Level: "shouting", Format: "json", Enabled: true})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("ATELIER_LOG_LEVEL", "warn")
	t.Setenv("ATELIER_LOG_FORMAT", "console")

	logging.ConfigureFromEnv()
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
