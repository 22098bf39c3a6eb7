package events

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
)

// NDJSONSink writes one JSON object per line to the underlying writer.
// Marshal or write failures are logged and the event is skipped; the
// stream itself never stalls the dispatcher.
type NDJSONSink struct {
	mu     sync.Mutex
	w      io.Writer
	logger arbor.ILogger
}

// NewNDJSONSink wraps a writer as an event sink
func NewNDJSONSink(w io.Writer, logger arbor.ILogger) *NDJSONSink {
	return &NDJSONSink{w: w, logger: logger}
}

// Consume serializes the event and appends a newline
func (s *NDJSONSink) Consume(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write event line")
	}
}
