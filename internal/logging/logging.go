// Package logging builds the zap logger shared by the service.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger, or a console development logger
// when env is "dev" or "local".  level is a zap level name; empty means
// debug in development and info otherwise.
func New(env, level string) (*zap.Logger, error) {
	dev := strings.EqualFold(env, "dev") || strings.EqualFold(env, "local")
	lvl := zapcore.InfoLevel
	if dev {
		lvl = zapcore.DebugLevel
	}
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(zap.Fields(zap.String("service", "cinema-booking")))
}
