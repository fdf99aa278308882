// Package logx provides a minimal level-filtered logger. The corpus has no
// structured logging dependency anywhere (teacher and examples alike log
// through the standard library), so this wraps log.Logger rather than
// reaching for an external logging package.
package logx

import (
	"log"
	"os"
)

// Level mirrors the FFI log_level surface: TRACE, DEBUG, INFO, NOTICE, WARN, ERROR, FATAL.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Notice
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Trace:
		return "TRACE"
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Notice:
		return "NOTICE"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts the FFI's log_level strings.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "TRACE":
		return Trace, true
	case "DEBUG":
		return Debug, true
	case "INFO":
		return Info, true
	case "NOTICE":
		return Notice, true
	case "WARN":
		return Warn, true
	case "ERROR":
		return Error, true
	case "FATAL":
		return Fatal, true
	default:
		return Info, false
	}
}

// Logger filters plain log.Logger output by level.
type Logger struct {
	level Level
	out   *log.Logger
}

func New(level Level) *Logger {
	return &Logger{level: level, out: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("["+level.String()+"] "+format, args...)
}

func (l *Logger) Tracef(format string, args ...interface{})  { l.logf(Trace, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})  { l.logf(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})   { l.logf(Info, format, args...) }
func (l *Logger) Noticef(format string, args ...interface{}) { l.logf(Notice, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})   { l.logf(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})  { l.logf(Error, format, args...) }
