// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultSystemPrompt is attached to every request unless configured otherwise.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely. " +
	"Use Markdown for formatting when it helps readability."

// statusMessages is the generic per-status fallback table.
var statusMessages = map[int]string{
	http.StatusBadRequest:            "The provider rejected the request as invalid.",
	http.StatusUnauthorized:          "Authentication failed. Check your API key.",
	http.StatusPaymentRequired:       "The provider account has insufficient credits.",
	http.StatusForbidden:             "Access denied. Your API key may not have access to this model.",
	http.StatusNotFound:              "The model or endpoint was not found. Check the model name.",
	http.StatusRequestTimeout:        "The provider timed out waiting for the request.",
	http.StatusRequestEntityTooLarge: "The request is too large. Try a shorter message or a smaller image.",
	http.StatusTooManyRequests:       "Rate limit exceeded. Wait a moment and try again.",
	http.StatusInternalServerError:   "The provider encountered an internal error.",
	http.StatusBadGateway:            "The provider is temporarily unreachable.",
	http.StatusServiceUnavailable:    "The provider is temporarily unavailable.",
	http.StatusGatewayTimeout:        "The provider took too long to respond.",
}

// StatusMessage returns the generic display text for an HTTP status.
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if status >= 500 {
		return fmt.Sprintf("The provider returned a server error (%d).", status)
	}
	return fmt.Sprintf("The request failed with status %d.", status)
}

// nestedErrorBody matches {"error": {"message": "..."}} as used by OpenAI,
// OpenRouter, Anthropic and Gemini.
type nestedErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Code    any    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// flatErrorBody matches {"error": "..."} as used by Ollama.
type flatErrorBody struct {
	Error string `json:"error"`
}

// extractErrorMessage reads a structured error body and falls back to the
// status table.
func extractErrorMessage(status int, body []byte) string {
	var nested nestedErrorBody
	if err := json.Unmarshal(body, &nested); err == nil {
		if msg := strings.TrimSpace(nested.Error.Message); msg != "" {
			return msg
		}
	}
	var flat flatErrorBody
	if err := json.Unmarshal(body, &flat); err == nil {
		if msg := strings.TrimSpace(flat.Error); msg != "" {
			return msg
		}
	}
	return StatusMessage(status)
}
