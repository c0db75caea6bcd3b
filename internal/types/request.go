package types

import (
	"encoding/json"
	"fmt"
)

// ChatRequest is the OpenAI-compatible chat completion request accepted by the gateway.
// Only the fields the gateway needs to route and validate are modelled; the raw inbound
// body is what gets forwarded, with the stream flag forced on.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`

	// Generation parameters are relayed untouched.
	MaxTokens        json.RawMessage `json:"max_tokens,omitempty"`
	Temperature      json.RawMessage `json:"temperature,omitempty"`
	TopP             json.RawMessage `json:"top_p,omitempty"`
	PresencePenalty  json.RawMessage `json:"presence_penalty,omitempty"`
	FrequencyPenalty json.RawMessage `json:"frequency_penalty,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Stream           *bool           `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ParseChatRequest decodes and validates an inbound request body.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &InvalidRequestError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the fields the gateway relies on.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return &InvalidRequestError{Reason: "model is required"}
	}
	if r.Messages == nil {
		return &InvalidRequestError{Reason: "messages is required"}
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return &InvalidRequestError{Reason: fmt.Sprintf("messages[%d].role is required", i)}
		}
	}
	return nil
}

