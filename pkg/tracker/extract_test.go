package tracker

import (
	"testing"
)

func TestOpenAIExtractor(t *testing.T) {
	ex, ok := ExtractorFor("openai_chat")
	if !ok {
		t.Fatal("extractor missing")
	}

	usage := ex.FromResponse(map[string]any{
		"usage": map[string]any{"prompt_tokens": 5},
	})
	if usage["prompt_tokens"] != 5 {
		t.Errorf("response usage = %v", usage)
	}

	if got := ex.FromResponse(map[string]any{"id": "x"}); got != nil {
		t.Errorf("expected nil for response without usage, got %v", got)
	}

	// Responses API stream events nest usage on the inner response.
	usage = ex.FromStreamEvent(map[string]any{
		"response": map[string]any{"usage": map[string]any{"total_tokens": 42}},
	})
	if usage["total_tokens"] != 42 {
		t.Errorf("stream usage = %v", usage)
	}
}

func TestOpenAIExtractorTypedStruct(t *testing.T) {
	type usageBlock struct {
		PromptTokens int `json:"prompt_tokens"`
	}
	type chatResponse struct {
		ID    string     `json:"id"`
		Usage usageBlock `json:"usage"`
	}

	ex, _ := ExtractorFor("openai_chat")
	usage := ex.FromResponse(chatResponse{ID: "c1", Usage: usageBlock{PromptTokens: 7}})
	if usage["prompt_tokens"] != float64(7) {
		t.Errorf("typed struct usage = %v", usage)
	}
}

func TestAnthropicExtractor(t *testing.T) {
	ex, _ := ExtractorFor("anthropic")

	usage := ex.FromResponse(map[string]any{
		"usage": map[string]any{"input_tokens": 3},
	})
	if usage["input_tokens"] != 3 {
		t.Errorf("usage = %v", usage)
	}

	// A bare usage block passes through.
	bare := map[string]any{"input_tokens": 4, "output_tokens": 2}
	if got := ex.FromResponse(bare); got["input_tokens"] != 4 {
		t.Errorf("bare block = %v", got)
	}

	// message_start stream events nest usage on the message.
	usage = ex.FromStreamEvent(map[string]any{
		"type":    "message_start",
		"message": map[string]any{"usage": map[string]any{"input_tokens": 9}},
	})
	if usage["input_tokens"] != 9 {
		t.Errorf("stream usage = %v", usage)
	}
}

func TestBedrockExtractor(t *testing.T) {
	ex, _ := ExtractorFor("bedrock")

	usage := ex.FromResponse(map[string]any{
		"usage": map[string]any{"inputTokens": 3},
	})
	if usage["inputTokens"] != 3 {
		t.Errorf("usage = %v", usage)
	}

	// Converse responses may put the counts at the top level.
	flat := map[string]any{"inputTokens": 1, "outputTokens": 2, "totalTokens": 3}
	if got := ex.FromResponse(flat); got["totalTokens"] != 3 {
		t.Errorf("flat form = %v", got)
	}
	if got := ex.FromResponse(map[string]any{"inputTokens": 1}); got != nil {
		t.Errorf("partial counts must not match: %v", got)
	}

	// Stream metadata events carry usage under metadata.
	usage = ex.FromStreamEvent(map[string]any{
		"metadata": map[string]any{"usage": map[string]any{"totalTokens": 11}},
	})
	if usage["totalTokens"] != 11 {
		t.Errorf("stream usage = %v", usage)
	}
}

func TestGeminiExtractorBridgesFieldCases(t *testing.T) {
	ex, _ := ExtractorFor("gemini")

	// snake_case input normalizes to camelCase output keys.
	usage := ex.FromResponse(map[string]any{
		"usage_metadata": map[string]any{
			"prompt_token_count":     10,
			"candidates_token_count": 20,
			"total_token_count":      30,
		},
	})
	if usage["promptTokenCount"] != 10 || usage["candidatesTokenCount"] != 20 || usage["totalTokenCount"] != 30 {
		t.Errorf("snake_case not bridged: %v", usage)
	}

	// camelCase input passes through on the same keys.
	usage = ex.FromStreamEvent(map[string]any{
		"usage_metadata": map[string]any{
			"promptTokenCount": 5,
			"totalTokenCount":  8,
		},
	})
	if usage["promptTokenCount"] != 5 || usage["totalTokenCount"] != 8 {
		t.Errorf("camelCase not preserved: %v", usage)
	}

	// Nested under model_response.
	usage = ex.FromStreamEvent(map[string]any{
		"model_response": map[string]any{
			"usage_metadata": map[string]any{"total_token_count": 77},
		},
	})
	if usage["totalTokenCount"] != 77 {
		t.Errorf("nested form = %v", usage)
	}

	if got := ex.FromStreamEvent(map[string]any{"text": "hi"}); got != nil {
		t.Errorf("no metadata must yield nil, got %v", got)
	}
}

func TestRegisterExtractor(t *testing.T) {
	custom := openAIExtractor{}
	RegisterExtractor("custom_api", custom)
	if _, ok := ExtractorFor("custom_api"); !ok {
		t.Error("registered extractor not found")
	}
}

func TestToMapRawJSON(t *testing.T) {
	m := toMap([]byte(`{"usage": {"total_tokens": 2}}`))
	if m == nil || m["usage"] == nil {
		t.Errorf("raw JSON not decoded: %v", m)
	}
	if toMap([]byte(`not json`)) != nil {
		t.Error("invalid JSON must yield nil")
	}
	if toMap(nil) != nil {
		t.Error("nil input must yield nil")
	}
}
