package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "cookie value", input: "SID=AbCdEf0123456789"},
		{name: "empty secret is still redacted", input: ""},
		{name: "passphrase", input: "correct horse battery staple"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", Secret(tt.input).GoString())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", Secret(tt.input)))
		})
	}
}

func TestLoggerWritesLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("loaded %d records", 3)
	logger.Warn("backup missing")
	logger.Error("download failed: %v", "timeout")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ loaded 3 records")
	assert.Contains(t, out, "⚠ backup missing")
	assert.Contains(t, out, "✗ download failed: timeout")
	assert.NotContains(t, out, "hidden")
}

func TestLoggerDebugMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)
	assert.True(t, logger.DebugEnabled())

	logger.Debug("cache miss for %s", "active")
	assert.Contains(t, buf.String(), "[DEBUG] cache miss for active")
}

func TestLoggerNamed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true).Named("manager").Named("fallback")
	logger.Info("switching to backup")

	assert.Contains(t, buf.String(), "[manager.fallback] switching to backup")
}

func TestLoggerSecretArgument(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)
	logger.Info("derived key from %s", Secret("hunter2-passphrase"))

	assert.False(t, strings.Contains(buf.String(), "hunter2"))
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestRedact(t *testing.T) {
	t.Parallel()

	out := Redact("token=abcd1234 other=xyz", []string{"abcd1234", "xyz"})
	assert.Equal(t, "token=[REDACTED] other=xyz", out)
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	logger := Discard()
	logger.Error("nothing to see")
	assert.False(t, logger.DebugEnabled())
}
