// Package logging builds the logr loggers used across passcore. Loggers are
// backed by zap through zapr; verbosity follows logr V-levels.
package logging

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logger.V.
const (
	DEFAULT = 2
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

// ParseLevel maps a configured level name to a V-level. Numeric strings are
// accepted as-is.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return 0, nil
	case "default":
		return DEFAULT, nil
	case "verbose":
		return VERBOSE, nil
	case "debug":
		return DEBUG, nil
	case "trace":
		return TRACE, nil
	}
	var n int
	if _, err := fmt.Sscanf(name, "%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return n, nil
}

// New returns a logger that emits messages up to the given V-level.
// Development loggers write human readable console output.
func New(verbosity int, development bool) (logr.Logger, error) {
	var cfg uberzap.Config
	if development {
		cfg = uberzap.NewDevelopmentConfig()
	} else {
		cfg = uberzap.NewProductionConfig()
	}
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zl, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return logr.Discard(), fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// NewTestLogger creates a development logger that emits every level.
func NewTestLogger() logr.Logger {
	logger, err := New(TRACE, true)
	if err != nil {
		return logr.Discard()
	}
	return logger
}
