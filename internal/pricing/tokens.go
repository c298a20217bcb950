package pricing

import "encoding/json"

// UsageFromResponse extracts provider-reported token usage from a
// chat-completion-shaped response body, recognizing both OpenAI's and
// Anthropic's usage field layouts. Falls back to (0,0) when absent so
// the caller can apply EstimateTokens instead.
func UsageFromResponse(body []byte) (inputTokens, outputTokens int, ok bool) {
	var resp struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, false
	}
	if resp.Usage.PromptTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens, true
	}
	if resp.Usage.InputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens, true
	}
	return 0, 0, false
}
