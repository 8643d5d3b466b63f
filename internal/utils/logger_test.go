package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFormatsSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{stdout: &buf, level: DEBUG, enabled: true}

	l.Info("turn completed", map[string]interface{}{"character": "albino_tomato", "accepted": true})

	out := buf.String()
	require.Contains(t, out, "[INFO]")
	require.Contains(t, out, "turn completed | accepted=true character=albino_tomato")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{stdout: &buf, level: WARNING, enabled: true}

	l.Info("ignored", nil)
	l.Warn("kept", nil)

	require.NotContains(t, buf.String(), "ignored")
	require.Contains(t, buf.String(), "[WARNING]")
}

func TestLoggerFatalUsesExitHook(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	l := &Logger{stdout: &buf, level: INFO, enabled: true, exit: func(c int) { code = c }}

	l.Fatal("boom", nil)

	require.Equal(t, 1, code)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"WARN":    WARNING,
		"warning": WARNING,
		"error":   ERROR,
		"":        INFO,
		"nope":    INFO,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			require.Equal(t, want, ParseLogLevel(in))
		})
	}
}
