package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"":         zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		" ERROR ":  zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

func TestNewWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Named(New(Options{Level: "debug", Service: "checkin", Writer: &buf}), "client")

	log.Debug().Str("path", "/stats").Msg("request")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "checkin", line["service"])
	assert.Equal(t, "client", line["component"])
	assert.Equal(t, "/stats", line["path"])
	assert.Equal(t, "request", line["message"])
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Writer: &buf})

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: "console", Writer: &buf})

	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
