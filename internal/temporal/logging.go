package temporal

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalAdapter routes SDK log lines into zerolog. Keyvals become fields; error
// values are attached with Err so they render like the rest of the service.
type TemporalAdapter struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*TemporalAdapter)(nil)
	_ log.WithLogger = (*TemporalAdapter)(nil)
)

func NewTemporalAdapter(logger zerolog.Logger) *TemporalAdapter {
	return &TemporalAdapter{
		logger: logger.With().Str("component", "temporal-sdk").Logger(),
	}
}

// With returns an adapter that adds keyvals to every line.
func (a *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	ctx := a.logger.With()
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		ctx = ctx.Interface(key, val)
	}
	return &TemporalAdapter{logger: ctx.Logger()}
}

func (a *TemporalAdapter) withKeyvals(event *zerolog.Event, keyvals ...interface{}) *zerolog.Event {
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		if err, ok := val.(error); ok && (key == "error" || key == "Error") {
			event = event.Err(err)
			continue
		}
		event = event.Interface(key, val)
	}
	return event
}

func pair(keyvals []interface{}, i int) (string, interface{}) {
	key, ok := keyvals[i].(string)
	if !ok {
		key = "INVALID_KEY"
	}
	if i+1 >= len(keyvals) {
		return key, "MISSING_VALUE"
	}
	return key, keyvals[i+1]
}

// Debug logs a debug message.
func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	a.withKeyvals(a.logger.Debug(), keyvals...).Msg(msg)
}

// Info logs an info message.
func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	a.withKeyvals(a.logger.Info(), keyvals...).Msg(msg)
}

// Warn logs a warning message.
func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	a.withKeyvals(a.logger.Warn(), keyvals...).Msg(msg)
}

// Error logs an error message.
func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	a.withKeyvals(a.logger.Error(), keyvals...).Msg(msg)
}
