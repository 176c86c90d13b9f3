package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAIBackend speaks the chat-completions protocol: a single flat
// message array with a system-role entry prepended, function calling via
// the dedicated function_call field on the response message.
type OpenAIBackend struct {
	apiKey      string
	apiBase     string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewOpenAIBackend(apiKey, apiBase, model string) *OpenAIBackend {
	return &OpenAIBackend{
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		model:       model,
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (b *OpenAIBackend) Name() string { return ProviderOpenAI }

type openAIMessage struct {
	Role         string              `json:"role"`
	Content      *string             `json:"content"`
	Name         string              `json:"name,omitempty"`
	FunctionCall *openAIFunctionCall `json:"function_call,omitempty"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (b *OpenAIBackend) GenerateText(ctx context.Context, messages []Message, systemPrompt string, schema *FunctionSchema) (*Result, error) {
	if b.apiBase == "" {
		return nil, fmt.Errorf("openai API base not configured")
	}

	apiMessages := make([]openAIMessage, 0, len(messages)+1)
	apiMessages = append(apiMessages, openAIMessage{Role: RoleSystem, Content: strPtr(systemPrompt)})
	for _, msg := range messages {
		apiMessages = append(apiMessages, toOpenAIMessage(msg))
	}

	requestBody := map[string]interface{}{
		"model":       b.model,
		"messages":    apiMessages,
		"temperature": b.temperature,
	}
	if schema != nil {
		requestBody["functions"] = []map[string]interface{}{openAIFunctionDef(schema)}
		requestBody["function_call"] = "auto"
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("openai API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}

	return parseOpenAIResponse(body)
}

// toOpenAIMessage renders a gateway message in wire shape. The synthetic
// assistant turn recording a function call carries null content.
func toOpenAIMessage(msg Message) openAIMessage {
	out := openAIMessage{Role: msg.Role, Name: msg.Name}
	if msg.FunctionCall != nil {
		args, err := json.Marshal(msg.FunctionCall.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		out.FunctionCall = &openAIFunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: string(args),
		}
		return out
	}
	out.Content = strPtr(msg.Content)
	return out
}

// openAIFunctionDef is the single translation site from the neutral
// schema into the chat-completions function declaration.
func openAIFunctionDef(schema *FunctionSchema) map[string]interface{} {
	properties := make(map[string]interface{}, len(schema.Parameters.Properties))
	for name, prop := range schema.Parameters.Properties {
		properties[name] = map[string]interface{}{
			"type":        prop.Type,
			"description": prop.Description,
		}
	}
	return map[string]interface{}{
		"name":        schema.Name,
		"description": schema.Description,
		"parameters": map[string]interface{}{
			"type":       schema.Parameters.Type,
			"properties": properties,
			"required":   schema.Parameters.Required,
		},
	}
}

func parseOpenAIResponse(body []byte) (*Result, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content      *string             `json:"content"`
				FunctionCall *openAIFunctionCall `json:"function_call"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}

	result := &Result{}
	if apiResponse.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     apiResponse.Usage.PromptTokens,
			CompletionTokens: apiResponse.Usage.CompletionTokens,
			TotalTokens:      apiResponse.Usage.TotalTokens,
		}
	}

	if len(apiResponse.Choices) == 0 {
		return result, nil
	}

	message := apiResponse.Choices[0].Message
	if message.FunctionCall != nil {
		arguments := map[string]interface{}{}
		if raw := strings.TrimSpace(message.FunctionCall.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
				arguments["raw"] = message.FunctionCall.Arguments
			}
		}
		result.FunctionCall = &FunctionCall{
			Name:      message.FunctionCall.Name,
			Arguments: arguments,
		}
		return result, nil
	}

	if message.Content != nil {
		result.Text = *message.Content
	}
	return result, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}

func strPtr(s string) *string { return &s }
