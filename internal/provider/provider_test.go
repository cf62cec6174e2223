// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

var testImage = &model.Image{Data: "iVBORw0KGgo=", MIMEType: "image/png"}

func testHistory() []model.Message {
	now := time.Now()
	return []model.Message{
		model.NewMessage(model.RoleUser, "hello", nil, now),
		model.NewMessage(model.RoleModel, "hi", nil, now),
		model.NewMessage(model.RoleUser, "what is this?", testImage, now),
	}
}

func decodeBody(t *testing.T, req fetch.Request) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &out))
	return out
}

// =============================================================================
// REQUEST BUILDING
// =============================================================================

func TestOpenAI_BuildRequest(t *testing.T) {
	a := NewOpenAI()
	req, err := a.BuildRequest(Config{Model: "gpt-4o", APIKey: "sk-test"}, testHistory())
	require.NoError(t, err)

	assert.Equal(t, DefaultOpenAIURL+"/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	body := decodeBody(t, req)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, true, body["stream"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, DefaultSystemPrompt, system["content"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])

	parts := msgs[3].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"], "text part must precede image part")
	img := parts[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", img["image_url"].(map[string]any)["url"])
}

func TestOpenRouter_Headers(t *testing.T) {
	req, err := NewOpenRouter().BuildRequest(Config{Model: "openrouter/auto", APIKey: "k"}, testHistory())
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenRouterURL+"/chat/completions", req.URL)
	assert.Equal(t, "rigchat", req.Header.Get("X-Title"))
	assert.NotEmpty(t, req.Header.Get("HTTP-Referer"))
}

func TestCustom_RequiresValidEndpoint(t *testing.T) {
	a := NewCustom()
	_, err := a.BuildRequest(Config{Model: "m"}, testHistory())
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	_, err = a.BuildRequest(Config{Model: "m", Endpoint: "file:///etc/passwd"}, testHistory())
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	req, err := a.BuildRequest(Config{Model: "m", Endpoint: "http://localhost:8080/v1/"}, testHistory())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", req.URL)
	assert.Empty(t, req.Header.Get("Authorization"), "no key configured, no auth header")
}

func TestAnthropic_BuildRequest(t *testing.T) {
	req, err := NewAnthropic().BuildRequest(Config{Model: "claude-3-5-sonnet", APIKey: "ak", SystemPrompt: "be brief"}, testHistory())
	require.NoError(t, err)

	assert.Equal(t, DefaultAnthropicURL+"/messages", req.URL)
	assert.Equal(t, "ak", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))

	body := decodeBody(t, req)
	assert.Equal(t, "be brief", body["system"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)

	blocks := msgs[2].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	src := blocks[1].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/png", src["media_type"])
}

func TestGemini_BuildRequest(t *testing.T) {
	req, err := NewGemini().BuildRequest(Config{Model: "gemini-1.5-flash", APIKey: "gk"}, testHistory())
	require.NoError(t, err)

	assert.Equal(t, DefaultGeminiURL+"/models/gemini-1.5-flash:streamGenerateContent?alt=sse", req.URL)
	assert.Equal(t, "gk", req.Header.Get("x-goog-api-key"))
	assert.NotContains(t, req.URL, "gk")

	body := decodeBody(t, req)
	contents := body["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])

	parts := contents[2].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "what is this?", parts[0].(map[string]any)["text"])
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", inline["mimeType"])

	sys := body["systemInstruction"].(map[string]any)["parts"].([]any)
	assert.Equal(t, DefaultSystemPrompt, sys[0].(map[string]any)["text"])
}

func TestOllama_BuildRequest(t *testing.T) {
	req, err := NewOllama().BuildRequest(Config{Model: "llama3.2"}, testHistory())
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaURL+"/api/chat", req.URL)

	body := decodeBody(t, req)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	last := msgs[3].(map[string]any)
	assert.Equal(t, []any{"iVBORw0KGgo="}, last["images"])
}

// =============================================================================
// LINE PARSING
// =============================================================================

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		adapter Adapter
		line    string
		want    string
		ok      bool
	}{
		{"openai delta", NewOpenAI(), `data: {"choices":[{"delta":{"content":"Hi"}}]}`, "Hi", true},
		{"openai done", NewOpenAI(), `data: [DONE]`, "", false},
		{"openai malformed", NewOpenAI(), `data: {"choices":`, "", false},
		{"openai comment", NewOpenAI(), `: OPENROUTER PROCESSING`, "", false},
		{"openai empty delta", NewOpenAI(), `data: {"choices":[{"delta":{}}]}`, "", false},
		{"openai no space", NewOpenAI(), `data:{"choices":[{"delta":{"content":"x"}}]}`, "x", true},
		{"anthropic delta", NewAnthropic(), `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Yo"}}`, "Yo", true},
		{"anthropic event line", NewAnthropic(), `event: content_block_delta`, "", false},
		{"anthropic ping", NewAnthropic(), `data: {"type":"ping"}`, "", false},
		{"gemini parts", NewGemini(), `data: {"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`, "ab", true},
		{"gemini no candidates", NewGemini(), `data: {"candidates":[]}`, "", false},
		{"ollama ndjson", NewOllama(), `{"message":{"role":"assistant","content":"Hey"},"done":false}`, "Hey", true},
		{"ollama done", NewOllama(), `{"message":{"content":""},"done":true}`, "", false},
		{"ollama framed", NewOllama(), `data: {"message":{"content":"z"}}`, "z", true},
		{"ollama garbage", NewOllama(), `not json`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.adapter.ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// ERROR MESSAGES
// =============================================================================

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Incorrect API key provided",
		NewOpenAI().ErrorMessage(401, []byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)))
	assert.Equal(t, "overloaded",
		NewAnthropic().ErrorMessage(529, []byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)))
	assert.Equal(t, "API key not valid",
		NewGemini().ErrorMessage(400, []byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)))
	assert.Contains(t,
		NewOllama().ErrorMessage(404, []byte(`{"error":"model \"x\" not found"}`)), "ollama pull")

	// Fallback table.
	assert.Equal(t, StatusMessage(401), NewOpenAI().ErrorMessage(401, []byte("<html>nope</html>")))
	assert.Equal(t, StatusMessage(503), NewGemini().ErrorMessage(503, nil))
	assert.Contains(t, StatusMessage(599), "599")
	assert.Contains(t, StatusMessage(418), "418")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		cfg  Config
		want error
	}{
		{"hosted ok", KindHosted, Config{Model: "m", APIKey: "k"}, nil},
		{"hosted no key", KindHosted, Config{Model: "m"}, ErrMissingAPIKey},
		{"no model", KindHosted, Config{APIKey: "k"}, ErrMissingModel},
		{"custom ok", KindCustom, Config{Model: "m", Endpoint: "https://x.example/v1"}, nil},
		{"custom no endpoint", KindCustom, Config{Model: "m"}, ErrMissingEndpoint},
		{"custom bad scheme", KindCustom, Config{Model: "m", Endpoint: "ftp://x"}, ErrInvalidEndpoint},
		{"local ok", KindLocal, Config{Model: "m"}, nil},
		{"local bad endpoint", KindLocal, Config{Model: "m", Endpoint: "localhost:11434"}, ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.kind, tt.cfg)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

// =============================================================================
// END-TO-END HANDLER
// =============================================================================

func TestStreamHandler_OpenAI(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Hi", " there"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	h := NewHandler(NewCustom(), fetch.NewClient())
	var chunks []string
	err := h.Stream(context.Background(), Config{Model: "m", Endpoint: server.URL + "/v1"}, testHistory()[:1],
		func(s string) { chunks = append(chunks, s) })

	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, []string{"Hi", " there"}, chunks)
	assert.Equal(t, KindCustom, h.Kind())
}

func TestStreamHandler_OllamaUnterminatedLastLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"a"},"done":false}`+"\n")
		fmt.Fprint(w, `{"message":{"content":"b"},"done":true}`)
	}))
	defer server.Close()

	h := NewHandler(NewOllama(), fetch.NewClient())
	var sb strings.Builder
	err := h.Stream(context.Background(), Config{Model: "m", Endpoint: server.URL}, testHistory()[:1],
		func(s string) { sb.WriteString(s) })

	require.NoError(t, err)
	assert.Equal(t, "ab", sb.String())
}

func TestStreamHandler_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer server.Close()

	h := NewHandler(NewOpenAI(), fetch.NewClient())
	err := h.Stream(context.Background(), Config{Model: "m", APIKey: "k", Endpoint: server.URL}, testHistory()[:1], func(string) {})

	var perr *fetch.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "bad key", perr.Message)
}

func TestStreamHandler_EmptyHistory(t *testing.T) {
	h := NewHandler(NewOpenAI(), nil)
	err := h.Stream(context.Background(), Config{Model: "m", APIKey: "k"}, nil, func(string) {})
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func TestBuiltin_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, a := range Builtin() {
		assert.False(t, seen[a.Name()], "duplicate adapter %s", a.Name())
		seen[a.Name()] = true
	}
	assert.Len(t, seen, 6)
}
