package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/courierd/core/logger"
)

type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Infow(string, map[string]any)  {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// Options configures the output shared by every component logger.
type Options struct {
	Level string
	// Format is "json" or "console". Empty picks console when APP_ENV=dev.
	Format string
	// File, when set, sends logs to a size-rotated file instead of stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	outMu   sync.RWMutex
	out     io.Writer = os.Stdout
	console           = strings.EqualFold(os.Getenv("APP_ENV"), "dev")
)

// Configure sets the global level and output. Loggers created afterwards use
// the new output. The returned Closer releases the log file, if any.
func Configure(o Options) (io.Closer, error) {
	if err := SetLevel(o.Level); err != nil {
		return nil, err
	}
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
		}
		w, closer = lj, lj
	}
	useConsole := strings.EqualFold(os.Getenv("APP_ENV"), "dev")
	switch strings.ToLower(o.Format) {
	case "":
	case "json":
		useConsole = false
	case "console":
		useConsole = true
	default:
		return nil, fmt.Errorf("log format %q", o.Format)
	}

	outMu.Lock()
	out, console = w, useConsole
	outMu.Unlock()
	return closer, nil
}

// New returns a Logger tagged with component.
func New(component string) Logger {
	outMu.RLock()
	w, c := out, console
	outMu.RUnlock()
	return NewZerologLogger(w, c, component)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
