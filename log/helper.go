package log

import (
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
)

// Level represents the logging level.
type Level int32

const (
	// DebugLevel logs are voluminous and usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need
	// individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority failures.
	ErrorLevel
)

var (
	helperStore atomic.Value // of *log.Helper
	baseStore   atomic.Value // of log.Logger
	levelStore  atomic.Int32
)

func init() {
	levelStore.Store(int32(InfoLevel))
	SetLogger(NewZerologLogger(nil))
}

// SetLogger installs the base logger behind the package helpers, wrapped in
// a level filter. Safe for concurrent use.
func SetLogger(logger log.Logger) {
	if logger == nil {
		return
	}
	baseStore.Store(logger)
	rebuild()
}

// GetLogger returns the currently installed base logger.
func GetLogger() log.Logger {
	if v := baseStore.Load(); v != nil {
		return v.(log.Logger)
	}
	return log.DefaultLogger
}

// SetLevel sets the minimum level the package helpers emit.
func SetLevel(level Level) {
	levelStore.Store(int32(level))
	rebuild()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(levelStore.Load())
}

func rebuild() {
	base := GetLogger()
	filtered := log.NewFilter(base, log.FilterLevel(kratosLevel(GetLevel())))
	helperStore.Store(log.NewHelper(filtered))
}

func kratosLevel(level Level) log.Level {
	switch level {
	case DebugLevel:
		return log.LevelDebug
	case InfoLevel:
		return log.LevelInfo
	case WarnLevel:
		return log.LevelWarn
	case ErrorLevel:
		return log.LevelError
	}
	return log.LevelInfo
}

func helper() *log.Helper {
	if v := helperStore.Load(); v != nil {
		return v.(*log.Helper)
	}
	// init has always run before use; kept as a guard for exotic linkers.
	return log.NewHelper(log.DefaultLogger)
}

// Debug logs at debug level.
func Debug(a ...any) { helper().Debug(a...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, a ...any) { helper().Debugf(format, a...) }

// Debugw logs key-value pairs at debug level.
func Debugw(keyvals ...any) { helper().Debugw(keyvals...) }

// Info logs at info level.
func Info(a ...any) { helper().Info(a...) }

// Infof logs a formatted message at info level.
func Infof(format string, a ...any) { helper().Infof(format, a...) }

// Infow logs key-value pairs at info level.
func Infow(keyvals ...any) { helper().Infow(keyvals...) }

// Warn logs at warn level.
func Warn(a ...any) { helper().Warn(a...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, a ...any) { helper().Warnf(format, a...) }

// Warnw logs key-value pairs at warn level.
func Warnw(keyvals ...any) { helper().Warnw(keyvals...) }

// Error logs at error level.
func Error(a ...any) { helper().Error(a...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, a ...any) { helper().Errorf(format, a...) }

// Errorw logs key-value pairs at error level.
func Errorw(keyvals ...any) { helper().Errorw(keyvals...) }
