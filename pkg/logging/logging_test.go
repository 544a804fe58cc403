package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	log.Debug().Str("instrument", "ES").Msg("hello")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "debug", m["level"])
	assert.Equal(t, "ES", m["instrument"])
	assert.Equal(t, "hello", m["message"])
	assert.Contains(t, m, "time")
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "WARN", "")
	require.NoError(t, err)

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "console")
	require.NoError(t, err)

	log.Info().Msg("readable")
	assert.Contains(t, buf.String(), "readable")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, "loud", "json")
	assert.Error(t, err)

	_, err = New(nil, "info", "xml")
	assert.Error(t, err)
}
