// Package logger declares the logging contract of the dispatch core.
// infra/logger provides the zerolog-backed implementation.
package logger

// Logger is a component logger. The *w variants emit fields as structured keys.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Infow(msg string, fields map[string]any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
