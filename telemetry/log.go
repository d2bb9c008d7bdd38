package telemetry

import (
	"log/slog"

	"github.com/edukit/speechgate"
)

// LogSink records error events using slog.
type LogSink struct {
	Logger *slog.Logger
}

var _ speechgate.Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Record(e speechgate.ErrorEvent) bool {
	s.Logger.Warn("upstream_error",
		"kind", string(e.Kind),
		"message", e.Message,
		"tenant", e.Tenant.String(),
		"request_id", e.RequestID,
		"queue_wait_ms", e.QueueWait.Milliseconds(),
		"payload_bytes", e.PayloadBytes,
		"environment", e.Environment,
	)
	return true
}
