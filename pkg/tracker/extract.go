package tracker

import (
	"encoding/json"
	"sync"
)

// UsageExtractor pulls the usage block out of a vendor response or
// stream event. Inputs may be typed SDK structs, decoded JSON maps, or
// raw []byte JSON; extractors see everything as a JSON object.
type UsageExtractor interface {
	// FromResponse extracts usage from a complete (non-streaming)
	// response. An empty map means no usage was found.
	FromResponse(response any) map[string]any

	// FromStreamEvent extracts usage from one streaming event. Most
	// events carry none.
	FromStreamEvent(event any) map[string]any
}

var (
	extractorsMu sync.RWMutex
	extractors   = map[string]UsageExtractor{
		"openai_chat":      openAIExtractor{},
		"openai_responses": openAIExtractor{},
		"anthropic":        anthropicExtractor{},
		"bedrock":          bedrockExtractor{},
		"gemini":           geminiExtractor{},
	}
)

// RegisterExtractor installs an extractor for apiID, replacing any
// existing one.
func RegisterExtractor(apiID string, ex UsageExtractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	extractors[apiID] = ex
}

// ExtractorFor returns the extractor registered for apiID.
func ExtractorFor(apiID string) (UsageExtractor, bool) {
	extractorsMu.RLock()
	defer extractorsMu.RUnlock()
	ex, ok := extractors[apiID]
	return ex, ok
}

// toMap coerces a vendor response into a JSON object. Typed structs go
// through one marshal/unmarshal round trip.
func toMap(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return val
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(val, &m); err != nil {
			return nil
		}
		return m
	case json.RawMessage:
		var m map[string]any
		if err := json.Unmarshal(val, &m); err != nil {
			return nil
		}
		return m
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		return m
	}
}

// subMap returns m[key] as a JSON object, or nil.
func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

// firstKey returns the first present key's object value.
func firstKey(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if child := subMap(m, key); child != nil {
			return child
		}
	}
	return nil
}

// openAIExtractor covers both the chat completions and responses APIs.
type openAIExtractor struct{}

func (openAIExtractor) FromResponse(response any) map[string]any {
	return subMap(toMap(response), "usage")
}

func (openAIExtractor) FromStreamEvent(event any) map[string]any {
	m := toMap(event)
	if usage := subMap(m, "usage"); usage != nil {
		return usage
	}
	// Responses API events nest usage on the inner response object.
	return subMap(subMap(m, "response"), "usage")
}

type anthropicExtractor struct{}

func (anthropicExtractor) FromResponse(response any) map[string]any {
	m := toMap(response)
	if usage := subMap(m, "usage"); usage != nil {
		return usage
	}
	// Callers may pass the usage block itself.
	return m
}

func (anthropicExtractor) FromStreamEvent(event any) map[string]any {
	m := toMap(event)
	if usage := subMap(m, "usage"); usage != nil {
		return usage
	}
	// message_start events carry usage on the inner message.
	return subMap(subMap(m, "message"), "usage")
}

type bedrockExtractor struct{}

func (bedrockExtractor) FromResponse(response any) map[string]any {
	m := toMap(response)
	if usage := subMap(m, "usage"); usage != nil {
		return usage
	}
	// Converse responses may carry the token counts at the top level.
	if hasAll(m, "inputTokens", "outputTokens", "totalTokens") {
		return m
	}
	return nil
}

func (bedrockExtractor) FromStreamEvent(event any) map[string]any {
	m := toMap(event)
	if usage := subMap(subMap(m, "metadata"), "usage"); usage != nil {
		return usage
	}
	return subMap(m, "usage")
}

type geminiExtractor struct{}

// geminiFields maps each usage_metadata field's camelCase and snake_case
// spellings to the canonical camelCase output key.
var geminiFields = []struct {
	camel, snake string
}{
	{"promptTokenCount", "prompt_token_count"},
	{"candidatesTokenCount", "candidates_token_count"},
	{"totalTokenCount", "total_token_count"},
	{"thoughtsTokenCount", "thoughts_token_count"},
	{"toolUsePromptTokenCount", "tool_use_prompt_token_count"},
	{"cachedContentTokenCount", "cached_content_token_count"},
}

func (geminiExtractor) FromResponse(response any) map[string]any {
	m := toMap(response)
	return normalizeGemini(firstKey(m, "usage_metadata", "usageMetadata"))
}

func (geminiExtractor) FromStreamEvent(event any) map[string]any {
	m := toMap(event)
	meta := firstKey(m, "usage_metadata", "usageMetadata")
	if meta == nil {
		// Sometimes nested under the wrapped model response.
		meta = firstKey(subMap(m, "model_response"), "usage_metadata", "usageMetadata")
	}
	return normalizeGemini(meta)
}

// normalizeGemini bridges the SDKs' camelCase/snake_case split into one
// canonical camelCase shape, keeping only known token-count fields.
func normalizeGemini(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	usage := make(map[string]any)
	for _, f := range geminiFields {
		if v, ok := meta[f.camel]; ok && v != nil {
			usage[f.camel] = v
		} else if v, ok := meta[f.snake]; ok && v != nil {
			usage[f.camel] = v
		}
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func hasAll(m map[string]any, keys ...string) bool {
	if m == nil {
		return false
	}
	for _, key := range keys {
		if _, ok := m[key]; !ok {
			return false
		}
	}
	return true
}
