package logging_test

import (
	"testing"

	"github.com/metabench/crawlfleet/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel_KnownLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logging.ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, logging.ParseLevel("warn"))
}

func TestParseLevel_UnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, logging.ParseLevel("not-a-level"))
}

func TestNew_AppliesRequestedLevel(t *testing.T) {
	logger := logging.New("example.com", "run-1", zerolog.InfoLevel)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
