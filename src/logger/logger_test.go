package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct{ level, format string }

func (f fakeSettings) LoggerSettings() (string, string) { return f.level, f.format }

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "INFO", "json", "FeedOracle")

	l.Info("window %ds", 5)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "FeedOracle", line["component"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "window 5s", line["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "WARNING", "json", "x")

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warning("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "DEBUG", "json", "x").With("feed", "okx")

	l.Debug("hello")
	assert.True(t, strings.Contains(buf.String(), `"feed":"okx"`))
}

func TestCriticalExits(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	prev := exit
	exit = func(c int) { code = c }
	defer func() { exit = prev }()

	New(&buf, "INFO", "json", "x").Critical("boom")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "boom")
}

func TestNewLoggerReadsSettings(t *testing.T) {
	l := NewLogger(fakeSettings{level: "ERROR", format: "json"}, "cfg")
	assert.Equal(t, "cfg", l.Name())
	assert.Equal(t, "error", l.logger.GetLevel().String())
}
