// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

// Default base URLs for OpenAI-compatible providers.
const (
	DefaultOpenAIURL     = "https://api.openai.com/v1"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// openAIMessage carries either a plain string or a list of content parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// =============================================================================
// OPENAI ADAPTER
// =============================================================================

// OpenAI speaks the chat completions API. The same adapter serves OpenRouter
// and custom OpenAI-compatible servers with a different name, base URL and kind.
type OpenAI struct {
	name    string
	kind    Kind
	baseURL string
	headers map[string]string
}

// NewOpenAI creates the openai adapter.
func NewOpenAI() *OpenAI {
	return &OpenAI{name: "openai", kind: KindHosted, baseURL: DefaultOpenAIURL}
}

// NewOpenRouter creates the openrouter adapter with its attribution headers.
func NewOpenRouter() *OpenAI {
	return &OpenAI{
		name:    "openrouter",
		kind:    KindHosted,
		baseURL: DefaultOpenRouterURL,
		headers: map[string]string{
			"HTTP-Referer": "https://github.com/jeranaias/rigchat",
			"X-Title":      "rigchat",
		},
	}
}

// NewCustom creates the adapter for user-defined OpenAI-compatible endpoints.
// The endpoint comes from Config and is required.
func NewCustom() *OpenAI {
	return &OpenAI{name: "custom", kind: KindCustom}
}

// Name implements Adapter.
func (a *OpenAI) Name() string { return a.name }

// Kind implements Adapter.
func (a *OpenAI) Kind() Kind { return a.kind }

// BuildRequest implements Adapter.
func (a *OpenAI) BuildRequest(cfg Config, history []model.Message) (fetch.Request, error) {
	base := endpointOr(cfg, a.baseURL)
	if base == "" {
		return fetch.Request{}, ErrMissingEndpoint
	}
	if err := ValidateEndpoint(base); err != nil {
		return fetch.Request{}, err
	}

	msgs := make([]openAIMessage, 0, len(history)+1)
	msgs = append(msgs, openAIMessage{Role: "system", Content: systemPrompt(cfg)})
	for _, m := range history {
		msgs = append(msgs, openAIMessage{Role: openAIRole(m.Role), Content: openAIContent(m)})
	}

	body, err := json.Marshal(openAIRequest{Model: cfg.Model, Messages: msgs, Stream: true})
	if err != nil {
		return fetch.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	for k, v := range a.headers {
		header.Set(k, v)
	}

	return fetch.Request{
		Method: http.MethodPost,
		URL:    base + "/chat/completions",
		Header: header,
		Body:   body,
	}, nil
}

// ParseLine implements Adapter.
func (a *OpenAI) ParseLine(line string) (string, bool) {
	payload, ok := dataPayload(line)
	if !ok {
		return "", false
	}
	var chunk openAIChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}

// ErrorMessage implements Adapter.
func (a *OpenAI) ErrorMessage(status int, body []byte) string {
	return extractErrorMessage(status, body)
}

func openAIRole(r model.Role) string {
	if r == model.RoleModel {
		return "assistant"
	}
	return "user"
}

// openAIContent returns a plain string for text-only messages and a part
// list, text first, for messages with an image.
func openAIContent(m model.Message) any {
	if !m.HasImage() {
		return m.Content
	}
	parts := make([]openAIPart, 0, 2)
	if m.Content != "" {
		parts = append(parts, openAIPart{Type: "text", Text: m.Content})
	}
	parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: m.Image.DataURI()}})
	return parts
}
