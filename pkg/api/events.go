package api

// StreamEventType identifies the type of an inbound streaming event.
type StreamEventType string

const (
	// EventChunk carries one increment of assistant content.
	EventChunk StreamEventType = "chunk"

	// EventDone ends a successful stream.
	EventDone StreamEventType = "done"

	// EventError ends a stream that failed mid-flight.
	EventError StreamEventType = "error"

	// EventAborted ends a stream the caller cancelled.
	EventAborted StreamEventType = "aborted"
)

// StreamEvent is one server-sent event of a streaming chat response.
// Exactly one of EventDone, EventError, or EventAborted terminates every
// stream.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Content      string          `json:"content,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case EventDone, EventError, EventAborted:
		return true
	}
	return false
}

// EventFromChunk converts a normalized ChatChunk into the inbound event
// shape. Terminal chunks map to done/error/aborted depending on how the
// stream ended.
func EventFromChunk(c ChatChunk) StreamEvent {
	if !c.Done {
		return StreamEvent{Type: EventChunk, Content: c.Content}
	}
	if c.Err != nil {
		e := AsError(c.Err)
		if e.Type == ErrorTypeAborted {
			return StreamEvent{Type: EventAborted}
		}
		return StreamEvent{Type: EventError, Error: e}
	}
	return StreamEvent{Type: EventDone, FinishReason: c.FinishReason, Usage: c.Usage}
}
