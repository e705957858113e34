// Package logging builds the process-wide zap logger usermgrd and its
// satellite daemons share, and wires it into internal/ldap's package
// logger hook.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leibniz-hpc/usermgrd/internal/ldap"
)

// New builds a zap.Logger for the named daemon at the given level
// ("debug", "info", "warn", "error"; defaults to "info" on empty input,
// and returns an error for an unrecognized level) and registers it as
// internal/ldap's logger.
func New(daemon, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building logger: %w", err)
	}
	logger = logger.With(zap.String("daemon", daemon))

	ldap.SetLogger(logger)
	return logger, nil
}
