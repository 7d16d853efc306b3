// Package logging is a thin wrapper around the standard log package,
// adding level prefixes and per-component tags — the teacher's own idiom
// (cmd/server/main.go logs straight through log.Printf/log.Fatalf), just
// given enough shape that every package in this module logs consistently.
package logging

import (
	"io"
	"log"
	"os"
)

// Level is the minimum severity a Logger will emit.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string (e.g. from TOML log_level) to a Level,
// defaulting to Info on anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger tags every line with a component name and filters by level.
type Logger struct {
	component string
	min       Level
	out       *log.Logger
}

var defaultOut io.Writer = os.Stderr

// New returns a Logger for component, writing through the standard log
// package's default flags (date, time) to stderr.
func New(component string, min Level) *Logger {
	return &Logger{
		component: component,
		min:       min,
		out:       log.New(defaultOut, "", log.LstdFlags),
	}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	l.out.Printf("["+level.String()+"] "+l.component+": "+format, args...)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args...) }

// Fatalf logs at Error level unconditionally and terminates the process,
// matching the teacher's log.Fatalf use at startup for unrecoverable
// conditions (spec.md §7 Fatal class).
func (l *Logger) Fatalf(format string, args ...any) {
	l.out.Fatalf("[FATAL] "+l.component+": "+format, args...)
}

// With returns a child Logger whose component is "parent.child", used by
// subsystems that want per-instance tags (e.g. a strategy name or exchange
// id) without losing the parent's level.
func (l *Logger) With(child string) *Logger {
	return &Logger{component: l.component + "." + child, min: l.min, out: l.out}
}
