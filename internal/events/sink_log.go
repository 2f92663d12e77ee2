package events

import "log/slog"

// LogSink writes every event to the structured logger. It is the always-on
// sink; presentation (color, formatting) is owned by the log backend.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(e Event) {
	if s.log == nil {
		return
	}
	attrs := []any{
		"event_type", string(e.Type),
		"call_id", e.CallID,
		"timestamp", e.Timestamp,
	}
	for k, v := range e.Attributes {
		attrs = append(attrs, k, v)
	}
	s.log.Info(e.Description, attrs...)
}
