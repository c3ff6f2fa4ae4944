// Package logging configures the process-wide structured logger and a
// narrow audit facade for operationally significant events.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the zerolog output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls level and encoding of the process logger.
type Config struct {
	Level  string
	Format Format
}

// New builds a zerolog.Logger configured per cfg. Unknown levels fall
// back to info rather than failing startup over a typo in LOG_LEVEL.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().Timestamp().Str("service", "kvsd").Logger()
}

// RecoverPanic is deferred at the top of each dispatcher session
// goroutine so a single bad protocol frame can't take the process
// down. Job workers recover panics in jobrunner's Pool instead.
func RecoverPanic(logger *zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}

// Audit is a thin severity-tagged facade over the structured logger for
// events operators care about even at default log level: lock
// failures, rejected CONNECTs, backup child failures. Separate from
// per-request debug logging so the two can be filtered independently
// downstream (e.g. routing Audit events to a paging channel).
type Audit struct {
	logger *zerolog.Logger
}

func NewAudit(logger *zerolog.Logger) *Audit {
	return &Audit{logger: logger}
}

func (a *Audit) Info(event, msg string, fields map[string]any) {
	a.emit(a.logger.Info(), event, msg, fields)
}

func (a *Audit) Warning(event, msg string, fields map[string]any) {
	a.emit(a.logger.Warn(), event, msg, fields)
}

func (a *Audit) Critical(event, msg string, fields map[string]any) {
	a.emit(a.logger.Error(), event, msg, fields)
}

func (a *Audit) emit(e *zerolog.Event, event, msg string, fields map[string]any) {
	e = e.Str("audit_event", event)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}
