package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "debug", Format: "json"}, &buf), "pipeline")

	logger.Debug().Str("source_id", "bcra_reserves").Msg("pulled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "bcra_reserves", line["source_id"])
	assert.Contains(t, line, "time")
}

func TestNewLoggerLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)

	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
