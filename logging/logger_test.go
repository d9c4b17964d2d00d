package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: DebugLevel, JSON: true, Output: &buf})

	l.With("invocation", "abc").Info("reply_delivered", "code", "E_CANCELLED")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "reply_delivered", entry["msg"])
	assert.Equal(t, "abc", entry["invocation"])
	assert.Equal(t, "E_CANCELLED", entry["code"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: WarnLevel, Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	l.With("k", "v").Error("ignored")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, level)

	level, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestGlogBackendWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Backend: BackendGlog, Level: DebugLevel, JSON: true, Output: &buf})

	l.With("invocation", "abc").Info("reply_delivered", "code", "E_CANCELLED")

	logged := buf.String()
	require.NotEmpty(t, strings.TrimSpace(logged))
	assert.Contains(t, logged, "reply_delivered")
	assert.Contains(t, logged, "invocation")
	assert.Contains(t, logged, "abc")
	assert.Contains(t, logged, "E_CANCELLED")
}

func TestGlogBackendWithKeepsParentClean(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Backend: BackendGlog, Level: DebugLevel, JSON: true, Output: &buf})

	base.With("component", "stdio").Info("child")
	base.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "stdio")
	assert.NotContains(t, lines[1], "stdio")
}

func TestFieldsOf(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1, "2": "b", "dangling": nil},
		fieldsOf([]any{"a", 1, 2, "b", "dangling"}))
}
