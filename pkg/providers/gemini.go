package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// systemAck is the synthetic model turn following the injected system
// prompt. Gemini has no system-role concept, so the prompt rides in as a
// leading user turn that the model "acknowledges".
const systemAck = "Understood. I'll follow these instructions."

// GeminiBackend speaks the generateContent protocol: alternating
// user/model turns built from content parts, tool calls returned as a
// typed functionCall part, token usage under usageMetadata.
type GeminiBackend struct {
	apiKey      string
	apiBase     string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewGeminiBackend(apiKey, apiBase, model string) *GeminiBackend {
	return &GeminiBackend{
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		model:       model,
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (b *GeminiBackend) Name() string { return ProviderGemini }

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

func (b *GeminiBackend) GenerateText(ctx context.Context, messages []Message, systemPrompt string, schema *FunctionSchema) (*Result, error) {
	if b.apiBase == "" {
		return nil, fmt.Errorf("gemini API base not configured")
	}

	requestBody := map[string]interface{}{
		"contents": buildGeminiContents(messages, systemPrompt),
		"generationConfig": map[string]interface{}{
			"temperature": b.temperature,
		},
	}
	if schema != nil {
		requestBody["tools"] = []map[string]interface{}{
			{"functionDeclarations": []map[string]interface{}{geminiFunctionDecl(schema)}},
		}
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		b.apiBase, url.PathEscape(b.model), url.QueryEscape(b.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("gemini API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}

	return parseGeminiResponse(body)
}

// buildGeminiContents renders the conversation in user/model turns. The
// system prompt becomes a synthetic leading user turn plus a model
// acknowledgement. Turns without content (the synthetic assistant turn
// recording a function call) are dropped; function-result turns carry
// their text as an ordinary model turn.
func buildGeminiContents(messages []Message, systemPrompt string) []geminiContent {
	contents := make([]geminiContent, 0, len(messages)+2)
	contents = append(contents,
		geminiContent{Role: "user", Parts: []geminiPart{{Text: systemPrompt}}},
		geminiContent{Role: "model", Parts: []geminiPart{{Text: systemAck}}},
	)
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := "model"
		if msg.Role == RoleUser {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return contents
}

// geminiFunctionDecl is the single translation site from the neutral
// schema into Gemini's declaration format with its enumerated type tags.
func geminiFunctionDecl(schema *FunctionSchema) map[string]interface{} {
	properties := make(map[string]interface{}, len(schema.Parameters.Properties))
	for name, prop := range schema.Parameters.Properties {
		properties[name] = map[string]interface{}{
			"type":        geminiType(prop.Type),
			"description": prop.Description,
		}
	}
	return map[string]interface{}{
		"name":        schema.Name,
		"description": schema.Description,
		"parameters": map[string]interface{}{
			"type":       geminiType(schema.Parameters.Type),
			"properties": properties,
			"required":   schema.Parameters.Required,
		},
	}
}

func geminiType(jsonType string) string {
	switch strings.ToLower(jsonType) {
	case "string":
		return "STRING"
	case "integer":
		return "INTEGER"
	case "number":
		return "NUMBER"
	case "boolean":
		return "BOOLEAN"
	case "array":
		return "ARRAY"
	case "object":
		return "OBJECT"
	default:
		return "TYPE_UNSPECIFIED"
	}
}

func parseGeminiResponse(body []byte) (*Result, error) {
	var apiResponse struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("unmarshal gemini response: %w", err)
	}

	result := &Result{}
	if apiResponse.UsageMetadata != nil {
		result.Usage = &Usage{
			PromptTokens:     apiResponse.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResponse.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResponse.UsageMetadata.TotalTokenCount,
		}
	}

	if len(apiResponse.Candidates) == 0 {
		return result, nil
	}

	var textParts []string
	for _, part := range apiResponse.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			result.FunctionCall = &FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: args,
			}
			result.Text = ""
			return result, nil
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	result.Text = strings.Join(textParts, "")
	return result, nil
}
