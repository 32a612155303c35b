package lcdk

import (
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Statter is the interface that stats collectors must implement to get stats
// out of the ingest pipeline and query engine.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// Logger is the interface that loggers must implement to get lcdk logs.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// StdLogger only prints on Printf.
type StdLogger struct {
	*log.Logger
}

// Printf implements Logger interface.
func (s StdLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger interface, but prints nothing.
func (StdLogger) Debugf(format string, v ...interface{}) {}

// VerboseLogger prints on both Printf and Debugf.
type VerboseLogger struct {
	*log.Logger
}

// Printf implements Logger interface.
func (s VerboseLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger interface.
func (s VerboseLogger) Debugf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// ZapLogger sends Printf to Info and Debugf to Debug on a sugared zap
// logger. Whether debug lines show up is decided by the zap logger's level.
type ZapLogger struct {
	*zap.SugaredLogger
}

// NewZapLogger returns a ZapLogger writing JSON lines. verbose lowers the
// level to debug.
func NewZapLogger(verbose bool) (ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return ZapLogger{}, errors.Wrap(err, "building zap logger")
	}
	return ZapLogger{l.Sugar()}, nil
}

// Printf implements Logger interface.
func (z ZapLogger) Printf(format string, v ...interface{}) {
	z.SugaredLogger.Infof(format, v...)
}

// Debugf implements Logger interface.
func (z ZapLogger) Debugf(format string, v ...interface{}) {
	z.SugaredLogger.Debugf(format, v...)
}

// OpenLogger returns the Logger selected by the common logging options.
// path is a file to append to, or empty for stderr. jsonOut selects
// structured zap output.
func OpenLogger(path string, verbose, jsonOut bool) (Logger, error) {
	if jsonOut {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		if path != "" {
			cfg.OutputPaths = []string{path}
		}
		l, err := cfg.Build()
		if err != nil {
			return nil, errors.Wrap(err, "building zap logger")
		}
		return ZapLogger{l.Sugar()}, nil
	}
	logOut := os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		logOut = f
	}
	if verbose {
		return VerboseLogger{log.New(logOut, "", log.LstdFlags)}, nil
	}
	return StdLogger{log.New(logOut, "", log.LstdFlags)}, nil
}
