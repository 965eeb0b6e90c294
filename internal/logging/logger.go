package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every entry so card API logs can be split from the
// collector's other streams.
const ServiceName = "medify-api"

// NewLogger builds the process logger. JSON output uses ISO8601 timestamps and
// is sampled; "console" switches to zap's development encoder without
// sampling. Unknown levels fall back to info.
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	logger, err := cfg.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func parseLevel(raw string) zapcore.Level {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "warning" {
		normalized = "warn"
	}
	level, err := zapcore.ParseLevel(normalized)
	if err != nil || level > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return level
}
