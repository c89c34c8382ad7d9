package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chorus-llm/chorus/pkg/api"
)

// writerState tracks the state of an SSE stream writer.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent
)

// sseWriter serializes a normalized chunk stream as server-sent events.
// The state machine guarantees at most one terminal event reaches the
// wire, whichever goroutine asks for it.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

// newSSEWriter creates a stream writer wrapping an http.ResponseWriter.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteEvent sends a single SSE event. The event is formatted as:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// After a terminal event (done, error, or aborted), it also sends:
//
//	data: [DONE]\n
//	\n
func (s *sseWriter) WriteEvent(event api.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: stream is completed")
	}

	// First event: set SSE headers.
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	// If this was a terminal event, send [DONE] and mark completed.
	if event.IsTerminal() {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("failed to write [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush [DONE]: %w", err)
		}
		s.state = writerCompleted
	}

	return nil
}
