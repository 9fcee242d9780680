package scheduler

import (
	"log/slog"
	"sync"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
)

// LogSink reports progress through the application logger.
type LogSink struct {
	log *slog.Logger
}

var _ flow.ProgressSink = (*LogSink)(nil)

// NewLogSink builds a sink over the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Report logs the progress line.
func (s *LogSink) Report(msg string) {
	s.log.Info(msg)
}

// SerializedSink wraps another sink with a mutex so concurrent workers never
// interleave inside the underlying implementation.
type SerializedSink struct {
	mu   sync.Mutex
	next flow.ProgressSink
}

var _ flow.ProgressSink = (*SerializedSink)(nil)

// NewSerializedSink wraps next.
func NewSerializedSink(next flow.ProgressSink) *SerializedSink {
	return &SerializedSink{next: next}
}

// Report forwards under the lock.
func (s *SerializedSink) Report(msg string) {
	if s.next == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Report(msg)
}

// MultiSink fans a progress line out to several sinks.
type MultiSink struct {
	sinks []flow.ProgressSink
}

var _ flow.ProgressSink = (*MultiSink)(nil)

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...flow.ProgressSink) *MultiSink {
	kept := make([]flow.ProgressSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

// Report forwards to every sink.
func (s *MultiSink) Report(msg string) {
	for _, sink := range s.sinks {
		sink.Report(msg)
	}
}
