// Package log provides a unified logging facade for the LDesign engine.
// It wraps the Kratos logging interface with a zerolog-backed default logger
// and package-level helper functions.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologLogger returns a Kratos log.Logger backed by zerolog writing to w.
func NewZerologLogger(w io.Writer) log.Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &zerologAdapter{logger: zl}
}

// Log implements the Kratos log.Logger interface. Kratos levels map onto
// zerolog events and key-value pairs become structured fields.
func (l *zerologAdapter) Log(level log.Level, keyvals ...any) error {
	// Tolerate odd keyvals by appending a placeholder value.
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}

	var event *zerolog.Event
	switch level {
	case log.LevelDebug:
		event = l.logger.Debug()
	case log.LevelInfo:
		event = l.logger.Info()
	case log.LevelWarn:
		event = l.logger.Warn()
	case log.LevelError:
		event = l.logger.Error()
	case log.LevelFatal:
		event = l.logger.Fatal()
	default:
		event = l.logger.Warn().Interface("original_level", level)
	}

	var msg string
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("BAD_KEY_%d", i)
			event = event.Interface("original_key", keyvals[i])
		}
		val := keyvals[i+1]

		if key == "msg" {
			if s, ok := val.(string); ok {
				msg = s
			} else {
				msg = fmt.Sprint(val)
			}
			continue
		}
		if key == "err" || key == "error" {
			if e, ok := val.(error); ok {
				event = event.Err(e)
				continue
			}
		}
		event = event.Interface(key, val)
	}

	event.Msg(msg)
	return nil
}
