// Package logging builds the application's logr.Logger.
package logging

import (
	"fmt"
	"io"
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the backend and verbosity of the logger.
type Options struct {
	// Format is json, console or std. json and console are zap encoders;
	// std writes plain lines through the standard log package.
	Format string
	// Verbosity is the highest V-level that is emitted.
	Verbosity int
	// Development enables zap's development mode (stack traces on warnings).
	Development bool
	// Output defaults to stderr. Only the std format honours it.
	Output io.Writer
}

// New returns a logger for o.
func New(o Options) (logr.Logger, error) {
	switch o.Format {
	case "", "json", "console":
		return newZap(o)
	case "std":
		out := o.Output
		if out == nil {
			out = log.Writer()
		}
		stdr.SetVerbosity(o.Verbosity)
		return stdr.NewWithOptions(log.New(out, "", log.LstdFlags), stdr.Options{LogCaller: stdr.Error}), nil
	default:
		return logr.Discard(), fmt.Errorf("logging: unknown format %q", o.Format)
	}
}

func newZap(o Options) (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	if o.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	if o.Format == "console" {
		cfg.Encoding = "console"
	}
	// logr V(n) maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(int8(-o.Verbosity)))

	z, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), fmt.Errorf("logging: build zap logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}
