package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certd/internal/logger"
)

func clearLogEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_OUTPUT", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_FILE_PATH", "")
}

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	clearLogEnv(t)
	logger.Init(level)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &out), buf.String())
	return out
}

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logAt   string
		wantLog bool
	}{
		{"debug logs debug", "debug", "debug", true},
		{"info skips debug", "info", "debug", false},
		{"warn skips info", "warn", "info", false},
		{"error logs error", "error", "error", true},
		{"invalid defaults to info", "invalid", "info", true},
		{"empty defaults to info", "", "debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, tt.level)
			switch tt.logAt {
			case "debug":
				logger.Get().Debug().Msg("probe")
			case "info":
				logger.Get().Info().Msg("probe")
			case "error":
				logger.Get().Error().Msg("probe")
			}
			assert.Equal(t, tt.wantLog, strings.Contains(buf.String(), "probe"), buf.String())
		})
	}
}

func TestInit_AddsServiceField(t *testing.T) {
	buf := capture(t, "info")
	logger.Get().Info().Msg("hello")

	out := decode(t, buf)
	assert.Equal(t, "certd", out["service"])
	assert.Equal(t, "hello", out["message"])
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certd.log")
	t.Setenv("LOG_OUTPUT", "file")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_FILE_PATH", path)

	logger.Init("info")
	logger.Get().Info().Msg("file output test")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "file output test")
}

func TestInit_FallbacksDoNotPanic(t *testing.T) {
	cases := map[string][2]string{
		"file without path":     {"file", ""},
		"unknown mode":          {"nope", ""},
		"both with dir as file": {"both", t.TempDir()},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LOG_OUTPUT", c[0])
			t.Setenv("LOG_FILE_PATH", c[1])
			t.Setenv("LOG_FORMAT", "json")
			assert.NotPanics(t, func() {
				logger.Init("info")
				logger.Get().Info().Msg("still logging")
			})
		})
	}
}

func TestHTTPEvents(t *testing.T) {
	buf := capture(t, "debug")
	logger.HTTPEvent("GET", "/api/certs", 200, 12).Msg("")
	out := decode(t, buf)
	assert.Equal(t, "http", out["event_category"])
	assert.Equal(t, "/api/certs", out["path"])
	assert.EqualValues(t, 200, out["status"])

	buf.Reset()
	logger.HTTPError("POST", "/api/certs/install", 502, errors.New("exit 1")).Msg("")
	out = decode(t, buf)
	assert.Equal(t, "error", out["level"])
	assert.Equal(t, "exit 1", out["error"])
}

func TestPanicEvent(t *testing.T) {
	buf := capture(t, "debug")
	logger.PanicEvent("boom", "stack trace").Msg("")
	out := decode(t, buf)
	assert.Equal(t, "boom", out["error"])
	assert.Equal(t, "stack trace", out["stack"])
}

func TestSecurityEvent(t *testing.T) {
	buf := capture(t, "info")
	logger.SecurityEvent("cleanup").Str("path", "/tmp/x/commercial.key").Msg("failed to delete key file")
	out := decode(t, buf)
	assert.Equal(t, "security", out["event_category"])
	assert.Equal(t, "warn", out["level"])
	assert.Equal(t, "cleanup", out["action"])
}

func TestRemoteEvent(t *testing.T) {
	buf := capture(t, "info")
	logger.RemoteEvent("mta1.example.com", []string{"/opt/zextras/bin/zmcertmgr", "deploycrt", "self"}).Msg("executing")
	out := decode(t, buf)
	assert.Equal(t, "rmgmt", out["event_category"])
	assert.Equal(t, "mta1.example.com", out["server"])
	assert.Equal(t, "deploycrt", out["command"])
}
