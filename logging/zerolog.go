package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger backs Logger with github.com/rs/zerolog, the structured
// logging library used across the example corpus (intelligencedev-manifold).
// The teacher's own Logger interface never names a library — this is the
// default production implementation behind it.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerolog creates a ZerologLogger writing to w. w == nil defaults to
// os.Stderr.
func NewZerolog(w io.Writer) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return &ZerologLogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

func (z *ZerologLogger) event(e *zerolog.Event, msg string, fields map[string]any) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, fields map[string]any) { z.event(z.log.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields map[string]any)  { z.event(z.log.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields map[string]any)  { z.event(z.log.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields map[string]any) { z.event(z.log.Error(), msg, fields) }
