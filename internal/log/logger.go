// Package log provides a global logger with configurable logging level. Messages are written
// through a pion/logging LeveledLogger, which applications embedding the library can replace with
// SetLogger.

package log

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pion/logging"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anamolies that are not expected to occur during normal use.
	LevelWarning              // Logs anamolies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

const scope = "carwings"

var pionLevels = map[Level]logging.LogLevel{
	LevelNone:    logging.LogLevelDisabled,
	LevelError:   logging.LogLevelError,
	LevelWarning: logging.LogLevelWarn,
	LevelInfo:    logging.LogLevelInfo,
	LevelDebug:   logging.LogLevelDebug,
}

var (
	logMutex       sync.Mutex
	globalLogLevel Level
	defaultSink    = logging.NewDefaultLeveledLoggerForScope(scope, logging.LogLevelDisabled, os.Stderr)
	sink           logging.LeveledLogger = defaultSink
)

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
	defaultSink.SetLevel(pionLevels[level])
}

// SetLogger redirects log output to logger. The global level still applies. Passing nil restores
// the default logger, which writes to stderr.
func SetLogger(logger logging.LeveledLogger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if logger == nil {
		sink = defaultSink
		return
	}
	sink = logger
}

func current() (Level, logging.LeveledLogger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel, sink
}

func Debug(format string, a ...interface{}) {
	if level, l := current(); level >= LevelDebug {
		l.Debugf(format, a...)
	}
}

func Info(format string, a ...interface{}) {
	if level, l := current(); level >= LevelInfo {
		l.Infof(format, a...)
	}
}

func Warning(format string, a ...interface{}) {
	if level, l := current(); level >= LevelWarning {
		l.Warnf(format, a...)
	}
}

func Error(format string, a ...interface{}) {
	if level, l := current(); level >= LevelError {
		l.Errorf(format, a...)
	}
}

var sensitiveKeys = []string{"password", "pin", "token", "cookie", "session"}

// Redact formats request parameters for debug output, masking values whose names suggest
// credentials. Keys are sorted so that output is stable.
func Redact(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		v := params[k]
		if v != "" && isSensitive(k) {
			v = "****"
		}
		b.WriteString(v)
	}
	b.WriteByte('}')
	return b.String()
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
