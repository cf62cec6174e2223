// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

// DefaultOllamaURL is the default local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Ollama speaks the local /api/chat endpoint. Its stream is newline-delimited
// JSON with no "data:" framing; a framed line is accepted as well.
type Ollama struct{}

// NewOllama creates the ollama adapter.
func NewOllama() *Ollama { return &Ollama{} }

// Name implements Adapter.
func (a *Ollama) Name() string { return "ollama" }

// Kind implements Adapter.
func (a *Ollama) Kind() Kind { return KindLocal }

// BuildRequest implements Adapter.
func (a *Ollama) BuildRequest(cfg Config, history []model.Message) (fetch.Request, error) {
	base := endpointOr(cfg, DefaultOllamaURL)
	if err := ValidateEndpoint(base); err != nil {
		return fetch.Request{}, err
	}

	msgs := make([]ollamaMessage, 0, len(history)+1)
	msgs = append(msgs, ollamaMessage{Role: "system", Content: systemPrompt(cfg)})
	for _, m := range history {
		om := ollamaMessage{Role: "user", Content: m.Content}
		if m.Role == model.RoleModel {
			om.Role = "assistant"
		}
		if m.HasImage() {
			om.Images = []string{m.Image.Data}
		}
		msgs = append(msgs, om)
	}

	body, err := json.Marshal(ollamaRequest{Model: cfg.Model, Messages: msgs, Stream: true})
	if err != nil {
		return fetch.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return fetch.Request{
		Method: http.MethodPost,
		URL:    base + "/api/chat",
		Header: header,
		Body:   body,
	}, nil
}

// ParseLine implements Adapter.
func (a *Ollama) ParseLine(line string) (string, bool) {
	payload := strings.TrimSpace(line)
	if p, ok := dataPayload(payload); ok {
		payload = p
	}
	if !strings.HasPrefix(payload, "{") {
		return "", false
	}
	var chunk ollamaChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false
	}
	if chunk.Message.Content == "" {
		return "", false
	}
	return chunk.Message.Content, true
}

// ErrorMessage implements Adapter.
func (a *Ollama) ErrorMessage(status int, body []byte) string {
	if status == http.StatusNotFound {
		if msg := extractErrorMessage(status, body); msg != StatusMessage(status) {
			return msg + ". Pull the model with `ollama pull` first."
		}
	}
	return extractErrorMessage(status, body)
}
