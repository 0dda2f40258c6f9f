package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerOptions{Level: DebugLevel, Prefix: "Shaders", Writer: &buf})
	l.With("shader", "lit", "request", "r-1").Infof("compiled %d stages", 2)

	out := buf.String()
	assert.Contains(t, out, "Shaders")
	assert.Contains(t, out, "compiled 2 stages")
	assert.Contains(t, out, "shader=lit")
	assert.Contains(t, out, "request=r-1")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerOptions{Level: WarnLevel, Writer: &buf})
	l.Infof("hidden")
	l.Debugf("hidden")
	assert.Empty(t, buf.String())
	l.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerReportsCallSite(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerOptions{Level: InfoLevel, ReportCaller: true, Writer: &buf})
	l.Infof("direct")
	l.With("shader", "lit").Warnf("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "logging_test.go:")
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, lvl)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Errorf("ignored %d", 1)
	assert.NotNil(t, l.With("k", "v"))
}

func TestIdentifiers(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
	assert.Contains(t, NewTempSuffix(), ".tmp-")
}
