package observability

import (
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger builds a structured logger writing to w at the given level.
func NewZerologLogger(w io.Writer, level zerolog.Level) *ZerologLogger {
	base := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{log: base}
}

func (z *ZerologLogger) Debug(msg string, fields ...Field) {
	z.emit(z.log.Debug(), msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields ...Field) {
	z.emit(z.log.Info(), msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields ...Field) {
	z.emit(z.log.Warn(), msg, fields)
}

func (z *ZerologLogger) Error(msg string, fields ...Field) {
	z.emit(z.log.Error(), msg, fields)
}

func (z *ZerologLogger) emit(evt *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		evt = evt.Interface(field.Key, field.Value)
	}
	evt.Msg(msg)
}
