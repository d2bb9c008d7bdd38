package telemetry

import "github.com/edukit/speechgate"

// NoopSink is a sink that discards every event.
type NoopSink struct{}

var _ speechgate.Sink = (*NoopSink)(nil)

func (s *NoopSink) Record(speechgate.ErrorEvent) bool { return true }
