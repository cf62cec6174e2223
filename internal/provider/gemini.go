// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

// DefaultGeminiURL is the Gemini API base URL.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Gemini speaks streamGenerateContent with alt=sse.
type Gemini struct{}

// NewGemini creates the gemini adapter.
func NewGemini() *Gemini { return &Gemini{} }

// Name implements Adapter.
func (a *Gemini) Name() string { return "gemini" }

// Kind implements Adapter.
func (a *Gemini) Kind() Kind { return KindHosted }

// BuildRequest implements Adapter.
func (a *Gemini) BuildRequest(cfg Config, history []model.Message) (fetch.Request, error) {
	contents := make([]geminiContent, 0, len(history))
	for _, m := range history {
		parts := make([]geminiPart, 0, 2)
		if m.Content != "" {
			parts = append(parts, geminiPart{Text: m.Content})
		}
		if m.HasImage() {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: m.Image.MIMEType,
				Data:     m.Image.Data,
			}})
		}
		// Gemini's roles are "user" and "model", matching ours.
		contents = append(contents, geminiContent{Role: string(m.Role), Parts: parts})
	}

	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt(cfg)}}},
	})
	if err != nil {
		return fetch.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	// SECURITY: Key travels in a header so it never appears in a logged URL.
	header.Set("x-goog-api-key", cfg.APIKey)

	u := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse",
		endpointOr(cfg, DefaultGeminiURL), url.PathEscape(cfg.Model))

	return fetch.Request{Method: http.MethodPost, URL: u, Header: header, Body: body}, nil
}

// ParseLine implements Adapter.
func (a *Gemini) ParseLine(line string) (string, bool) {
	payload, ok := dataPayload(line)
	if !ok {
		return "", false
	}
	var resp geminiResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return "", false
	}
	if len(resp.Candidates) == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// ErrorMessage implements Adapter.
func (a *Gemini) ErrorMessage(status int, body []byte) string {
	return extractErrorMessage(status, body)
}
