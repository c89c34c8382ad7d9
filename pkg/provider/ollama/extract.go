package ollama

import (
	"encoding/json"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/streaming"
)

// lineExtractor reads one newline-delimited chat response object. The
// final line carries done=true together with the reason and counts, so no
// state is needed across lines.
type lineExtractor struct{}

var _ streaming.Extractor = lineExtractor{}

func (lineExtractor) ExtractContent(raw []byte) (string, bool) {
	var line chatResponse
	if err := json.Unmarshal(raw, &line); err != nil {
		return "", false
	}
	return line.Message.Content, true
}

func (lineExtractor) ExtractDone(raw []byte) (api.FinishReason, bool) {
	var line chatResponse
	if err := json.Unmarshal(raw, &line); err != nil || !line.Done {
		return api.FinishReasonUnknown, false
	}
	return mapDoneReason(line.DoneReason), true
}

func (lineExtractor) ExtractUsage(raw []byte) *api.Usage {
	var line chatResponse
	if err := json.Unmarshal(raw, &line); err != nil || !line.Done {
		return nil
	}
	if line.PromptEvalCount == 0 && line.EvalCount == 0 {
		return nil
	}
	return &api.Usage{
		PromptTokens:     line.PromptEvalCount,
		CompletionTokens: line.EvalCount,
		TotalTokens:      line.PromptEvalCount + line.EvalCount,
	}
}
