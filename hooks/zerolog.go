package hooks

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to core.Logger.  Fields are read as
// alternating key/value pairs; a trailing key without a value is dropped.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger { return &ZerologLogger{log: l} }

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) { emit(z.log.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...interface{})  { emit(z.log.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...interface{})  { emit(z.log.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...interface{}) { emit(z.log.Error(), msg, fields) }

func emit(ev *zerolog.Event, msg string, fields []interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		switch v := fields[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case float64:
			ev = ev.Float64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case error:
			ev = ev.Str(key, v.Error())
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
