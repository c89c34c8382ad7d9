package openaicompat

import (
	"encoding/json"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/streaming"
)

// chunkExtractor reads Chat Completions streaming chunks. Backends on
// this wire format terminate with a finish_reason-bearing chunk followed
// by the [DONE] sentinel, which the normalizer handles itself.
type chunkExtractor struct{}

var _ streaming.Extractor = chunkExtractor{}

func (chunkExtractor) ExtractContent(raw []byte) (string, bool) {
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", true
	}
	return *chunk.Choices[0].Delta.Content, true
}

func (chunkExtractor) ExtractDone(raw []byte) (api.FinishReason, bool) {
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return api.FinishReasonUnknown, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].FinishReason == nil {
		return api.FinishReasonUnknown, false
	}
	return MapFinishReason(*chunk.Choices[0].FinishReason), true
}

func (chunkExtractor) ExtractUsage(raw []byte) *api.Usage {
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil || chunk.Usage == nil {
		return nil
	}
	return &api.Usage{
		PromptTokens:     chunk.Usage.PromptTokens,
		CompletionTokens: chunk.Usage.CompletionTokens,
		TotalTokens:      chunk.Usage.TotalTokens,
	}
}
