package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func withOutput(t *testing.T, format string, level LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLevel := GetLevel()
	prevSink := Slog()
	SetOutput(&buf, format)
	SetLevel(level)
	t.Cleanup(func() {
		SetLevel(prevLevel)
		SetHandler(prevSink.Handler())
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := withOutput(t, "text", WARN)

	Debug("central", "dropped %d", 1)
	Info("central", "dropped too")
	Warn("central", "kept %s", "warning")
	Error("", "kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept warning")
	assert.Contains(t, out, "component=central")
	assert.Contains(t, out, "kept error")
}

func TestTraceLevelName(t *testing.T) {
	buf := withOutput(t, "text", TRACE)

	Trace("queue", "issue %s", "read")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestJSONFormat(t *testing.T) {
	buf := withOutput(t, "json", DEBUG)

	Info("peripheral", "server started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output: %s", buf.String())
	assert.Equal(t, "server started", entry["msg"])
	assert.Equal(t, "peripheral", entry["component"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestToJSONProtoMessage(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"kind": "issue", "attempt": 2})
	require.NoError(t, err)

	// protojson output spacing is unstable by design, so only check content
	out := ToJSON(s)
	assert.Contains(t, out, `"kind"`)
	assert.Contains(t, out, `"issue"`)

	plain := ToJSON(map[string]int{"a": 1})
	assert.True(t, strings.Contains(plain, `"a": 1`), plain)
}

func TestConfigureFileOutput(t *testing.T) {
	prevLevel := GetLevel()
	prevSink := Slog()
	t.Cleanup(func() {
		SetLevel(prevLevel)
		SetHandler(prevSink.Handler())
	})

	path := filepath.Join(t.TempDir(), "bluelane.log")
	closer, err := Configure(Options{Level: "debug", Format: "text", Output: path})
	require.NoError(t, err)

	Debug("central", "written to file")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Equal(t, DEBUG, GetLevel())
}
