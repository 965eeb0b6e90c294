package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for level, expected := range testCases {
		logger, err := NewLogger(level, "json")
		if err != nil {
			t.Fatalf("%q: failed to build logger: %v", level, err)
		}
		if !logger.Core().Enabled(expected) {
			t.Fatalf("%q: expected %s to be enabled", level, expected)
		}
		if expected > zapcore.DebugLevel && logger.Core().Enabled(expected-1) {
			t.Fatalf("%q: expected %s to be disabled", level, expected-1)
		}
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("info", "console")
	if err != nil {
		t.Fatalf("failed to build console logger: %v", err)
	}
	logger.Info("console logger ready")
}

func TestParseLevelRejectsFatalLevels(t *testing.T) {
	if level := parseLevel("fatal"); level != zapcore.InfoLevel {
		t.Fatalf("expected fatal to fall back to info, got %s", level)
	}
	if level := parseLevel(" Debug "); level != zapcore.DebugLevel {
		t.Fatalf("expected debug, got %s", level)
	}
}
