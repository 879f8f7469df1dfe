package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lumen/internal/config"
)

func TestNew_Text(t *testing.T) {
	var out bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "info"}, &out)
	require.NoError(t, err)
	defer l.Close()

	l.Named("manager").Info("plugin started", "id", "service.alpha")
	l.Debug("hidden")

	assert.Contains(t, out.String(), "[INFO]  lumen.manager: plugin started: id=service.alpha")
	assert.NotContains(t, out.String(), "hidden")
}

func TestNew_JSON(t *testing.T) {
	var out bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "debug", JSON: true}, &out)
	require.NoError(t, err)

	l.Debug("restart queued", "id", "service.beta")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "restart queued", entry["@message"])
	assert.Equal(t, "debug", entry["@level"])
	assert.Equal(t, "lumen", entry["@module"])
	assert.Equal(t, "service.beta", entry["id"])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lumen.log")
	l, err := New(config.LoggingConfig{Level: "warn", File: path})
	require.NoError(t, err)

	l.Warn("plugin ignored interruption", "event", "ForcedTermination")
	l.Info("not written")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[WARN]  lumen: plugin ignored interruption: event=ForcedTermination")
	assert.NotContains(t, string(data), "not written")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}
