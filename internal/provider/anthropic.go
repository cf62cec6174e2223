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

const (
	// DefaultAnthropicURL is the Anthropic API base URL.
	DefaultAnthropicURL = "https://api.anthropic.com/v1"

	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Anthropic speaks the Messages API. Stream events arrive as "event:" and
// "data:" line pairs; only content_block_delta text deltas carry text.
type Anthropic struct{}

// NewAnthropic creates the anthropic adapter.
func NewAnthropic() *Anthropic { return &Anthropic{} }

// Name implements Adapter.
func (a *Anthropic) Name() string { return "anthropic" }

// Kind implements Adapter.
func (a *Anthropic) Kind() Kind { return KindHosted }

// BuildRequest implements Adapter.
func (a *Anthropic) BuildRequest(cfg Config, history []model.Message) (fetch.Request, error) {
	msgs := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == model.RoleModel {
			role = "assistant"
		}
		// Text block first; the API is sensitive to block order.
		blocks := make([]anthropicBlock, 0, 2)
		if m.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
		}
		if m.HasImage() {
			blocks = append(blocks, anthropicBlock{
				Type: "image",
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: m.Image.MIMEType,
					Data:      m.Image.Data,
				},
			})
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: blocks})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     cfg.Model,
		System:    systemPrompt(cfg),
		Messages:  msgs,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	})
	if err != nil {
		return fetch.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	header.Set("x-api-key", cfg.APIKey)
	header.Set("anthropic-version", anthropicVersion)

	return fetch.Request{
		Method: http.MethodPost,
		URL:    endpointOr(cfg, DefaultAnthropicURL) + "/messages",
		Header: header,
		Body:   body,
	}, nil
}

// ParseLine implements Adapter.
func (a *Anthropic) ParseLine(line string) (string, bool) {
	payload, ok := dataPayload(line)
	if !ok {
		return "", false
	}
	var ev anthropicEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", false
	}
	if ev.Type != "content_block_delta" || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
		return "", false
	}
	return ev.Delta.Text, true
}

// ErrorMessage implements Adapter.
func (a *Anthropic) ErrorMessage(status int, body []byte) string {
	return extractErrorMessage(status, body)
}
