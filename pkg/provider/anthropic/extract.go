package anthropic

import (
	"encoding/json"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/streaming"
)

// eventExtractor reads Messages API streaming events. The terminal
// information is spread across events: message_delta carries the stop
// reason and output token count, message_stop ends the stream. State is
// safe because the normalizer drives one extractor per stream from a
// single goroutine.
type eventExtractor struct {
	stopReason   string
	inputTokens  int
	outputTokens int
}

var _ streaming.Extractor = (*eventExtractor)(nil)

func (e *eventExtractor) ExtractContent(raw []byte) (string, bool) {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", false
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, true
		}
		return "", true
	case "message_start":
		if ev.Message != nil {
			e.inputTokens = ev.Message.Usage.InputTokens
		}
		return "", true
	case "message_delta":
		if ev.Delta != nil {
			e.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			e.outputTokens = ev.Usage.OutputTokens
		}
		return "", true
	default:
		// ping, content_block_start, content_block_stop, error. The
		// error event terminates via ExtractDone.
		return "", true
	}
}

func (e *eventExtractor) ExtractDone(raw []byte) (api.FinishReason, bool) {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return api.FinishReasonUnknown, false
	}
	switch ev.Type {
	case "message_stop":
		return mapStopReason(e.stopReason), true
	case "error":
		return api.FinishReasonError, true
	default:
		return api.FinishReasonUnknown, false
	}
}

func (e *eventExtractor) ExtractUsage(raw []byte) *api.Usage {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	if ev.Type != "message_delta" && ev.Type != "message_stop" {
		return nil
	}
	if ev.Type == "message_delta" && ev.Usage != nil {
		e.outputTokens = ev.Usage.OutputTokens
	}
	if e.inputTokens == 0 && e.outputTokens == 0 {
		return nil
	}
	return &api.Usage{
		PromptTokens:     e.inputTokens,
		CompletionTokens: e.outputTokens,
		TotalTokens:      e.inputTokens + e.outputTokens,
	}
}
