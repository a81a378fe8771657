// Package log implements a wrapper around the Go standard library's
// logging package. Clients should set the current log level; only
// messages at or above that level will actually be logged. For example, if
// Level is set to LevelWarning, only log messages at the Warning,
// Error, and Critical levels will be logged.
//
// Benchmark workers log through a Logger obtained from WithPrefix so that
// interleaved output from concurrent threads can be told apart.
package log

import (
	"fmt"
	golog "log"
	"log/syslog"
	"os"
	"sync"
)

// The following constants represent logging levels in increasing levels of seriousness.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	LevelFatal
)

var levelPrefix = [...]string{
	LevelDebug:    "[DEBUG] ",
	LevelInfo:     "[INFO] ",
	LevelWarning:  "[WARNING] ",
	LevelError:    "[ERROR] ",
	LevelCritical: "[CRITICAL] ",
	LevelFatal:    "[FATAL] ",
}

var levelPriority = [...]syslog.Priority{
	LevelDebug:    syslog.LOG_DEBUG,
	LevelInfo:     syslog.LOG_INFO,
	LevelWarning:  syslog.LOG_WARNING,
	LevelError:    syslog.LOG_ERR,
	LevelCritical: syslog.LOG_CRIT,
	LevelFatal:    syslog.LOG_EMERG,
}

// Level stores the current logging level.
var Level = LevelInfo

var (
	// UseSyslog controls if syslog is used instead of stdout/err.
	UseSyslog bool
	// SyslogNetwork controls the network protocol syslog uses.
	SyslogNetwork = "udp"
	// SyslogRaddr is the address of a remote syslog instance.
	SyslogRaddr string
	// SyslogTag is the tag to pass to syslog.
	SyslogTag = "p11bench"
)

// outputMu serializes the switch of the standard logger's output between
// stdout and stderr, since workers log concurrently.
var outputMu sync.Mutex

func emit(l int, msg string) {
	if l < Level {
		return
	}
	msg = levelPrefix[l] + msg

	outputMu.Lock()
	defer outputMu.Unlock()
	if UseSyslog {
		logger, err := syslog.Dial(SyslogNetwork, SyslogRaddr, levelPriority[l], SyslogTag)
		if err != nil {
			golog.Fatal(err)
		}
		defer logger.Close()
		golog.SetOutput(logger)
	} else if l > LevelInfo {
		golog.SetOutput(os.Stderr)
	} else {
		golog.SetOutput(os.Stdout)
	}
	golog.Print(msg)
}

func outputf(l int, format string, v []interface{}) {
	if l >= Level {
		emit(l, fmt.Sprintf(format, v...))
	}
}

func output(l int, v []interface{}) {
	if l >= Level {
		emit(l, fmt.Sprint(v...))
	}
}

// Fatalf logs a formatted message at the "fatal" level and then exits. The
// arguments are handled in the same manner as fmt.Printf.
func Fatalf(format string, v ...interface{}) {
	outputf(LevelFatal, format, v)
	os.Exit(1)
}

// Fatal logs its arguments at the "fatal" level and then exits.
func Fatal(v ...interface{}) {
	output(LevelFatal, v)
	os.Exit(1)
}

// Criticalf logs a formatted message at the "critical" level. The
// arguments are handled in the same manner as fmt.Printf.
func Criticalf(format string, v ...interface{}) {
	outputf(LevelCritical, format, v)
}

// Errorf logs a formatted message at the "error" level. The arguments
// are handled in the same manner as fmt.Printf.
func Errorf(format string, v ...interface{}) {
	outputf(LevelError, format, v)
}

// Error logs its arguments at the "error" level.
func Error(v ...interface{}) {
	output(LevelError, v)
}

// Warningf logs a formatted message at the "warning" level. The
// arguments are handled in the same manner as fmt.Printf.
func Warningf(format string, v ...interface{}) {
	outputf(LevelWarning, format, v)
}

// Warning logs its arguments at the "warning" level.
func Warning(v ...interface{}) {
	output(LevelWarning, v)
}

// Infof logs a formatted message at the "info" level. The arguments
// are handled in the same manner as fmt.Printf.
func Infof(format string, v ...interface{}) {
	outputf(LevelInfo, format, v)
}

// Info logs its arguments at the "info" level.
func Info(v ...interface{}) {
	output(LevelInfo, v)
}

// Debugf logs a formatted message at the "debug" level. The arguments
// are handled in the same manner as fmt.Printf.
func Debugf(format string, v ...interface{}) {
	outputf(LevelDebug, format, v)
}

// Debug logs its arguments at the "debug" level.
func Debug(v ...interface{}) {
	output(LevelDebug, v)
}

// Logger logs with a fixed prefix placed after the level tag.
type Logger struct {
	prefix string
}

// WithPrefix returns a Logger whose messages start with "<prefix>: ".
func WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix + ": "}
}

// Debugf logs at the "debug" level.
func (lg *Logger) Debugf(format string, v ...interface{}) {
	outputf(LevelDebug, lg.prefix+format, v)
}

// Infof logs at the "info" level.
func (lg *Logger) Infof(format string, v ...interface{}) {
	outputf(LevelInfo, lg.prefix+format, v)
}

// Warningf logs at the "warning" level.
func (lg *Logger) Warningf(format string, v ...interface{}) {
	outputf(LevelWarning, lg.prefix+format, v)
}

// Errorf logs at the "error" level.
func (lg *Logger) Errorf(format string, v ...interface{}) {
	outputf(LevelError, lg.prefix+format, v)
}
