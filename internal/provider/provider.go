// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// PROVIDER TYPES
// =============================================================================

// Kind classifies a provider by the credentials it needs.
type Kind int

const (
	// KindHosted needs a model and an API key.
	KindHosted Kind = iota
	// KindCustom needs a model and an endpoint URL.
	KindCustom
	// KindLocal needs only a model.
	KindLocal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHosted:
		return "hosted"
	case KindCustom:
		return "custom"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Config is the resolved configuration for one request. The engine builds
// it from settings and passes it in explicitly.
type Config struct {
	Model        string
	APIKey       string
	Endpoint     string
	SystemPrompt string
}

// Adapter translates between chat history and one backend's wire format.
type Adapter interface {
	// Name is the provider name the adapter is registered under.
	Name() string

	// Kind reports which credentials the provider requires.
	Kind() Kind

	// BuildRequest maps history (oldest first) to an HTTP request.
	BuildRequest(cfg Config, history []model.Message) (fetch.Request, error)

	// ParseLine extracts text from one stream line. ok is false for
	// framing, terminator and malformed lines.
	ParseLine(line string) (text string, ok bool)

	// ErrorMessage returns display text for a non-2xx response.
	ErrorMessage(status int, body []byte) string
}

// Handler streams one model reply. onChunk is called zero or more times in
// order; Stream returns nil when the stream legitimately ends, an error for
// which fetch.IsCanceled is true when ctx is cancelled, or a descriptive error.
type Handler interface {
	Stream(ctx context.Context, cfg Config, history []model.Message, onChunk func(string)) error
}

// Kinded is implemented by handlers that know their provider kind.
type Kinded interface {
	Kind() Kind
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingModel indicates no model is configured.
	ErrMissingModel = errors.New("no model configured")

	// ErrMissingAPIKey indicates a hosted provider has no API key.
	ErrMissingAPIKey = errors.New("no API key configured")

	// ErrMissingEndpoint indicates a custom provider has no endpoint.
	ErrMissingEndpoint = errors.New("no endpoint URL configured")

	// ErrInvalidEndpoint indicates an endpoint that is not an http(s) URL.
	ErrInvalidEndpoint = errors.New("endpoint must be an http or https URL")

	// ErrEmptyHistory indicates there is nothing to send.
	ErrEmptyHistory = errors.New("history is empty")
)

// ValidateConfig checks that cfg carries the fields required by kind:
// model always, API key for hosted providers, endpoint URL for custom ones.
func ValidateConfig(kind Kind, cfg Config) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return ErrMissingModel
	}
	switch kind {
	case KindHosted:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return ErrMissingAPIKey
		}
	case KindCustom:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return ErrMissingEndpoint
		}
	}
	if cfg.Endpoint != "" {
		return ValidateEndpoint(cfg.Endpoint)
	}
	return nil
}

// ValidateEndpoint checks that raw is an absolute http or https URL.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidEndpoint
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return ErrInvalidEndpoint
	}
	return nil
}

// =============================================================================
// STREAM HANDLER
// =============================================================================

// StreamHandler adapts an Adapter and a fetch.Client to the Handler contract.
type StreamHandler struct {
	adapter Adapter
	fetcher *fetch.Client
}

// NewHandler creates a Handler that streams through fetcher.
func NewHandler(a Adapter, fetcher *fetch.Client) *StreamHandler {
	if fetcher == nil {
		fetcher = fetch.NewClient()
	}
	return &StreamHandler{adapter: a, fetcher: fetcher}
}

// Kind returns the adapter's kind.
func (h *StreamHandler) Kind() Kind {
	return h.adapter.Kind()
}

// Adapter returns the wrapped adapter.
func (h *StreamHandler) Adapter() Adapter {
	return h.adapter
}

// Stream implements Handler.
func (h *StreamHandler) Stream(ctx context.Context, cfg Config, history []model.Message, onChunk func(string)) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	req, err := h.adapter.BuildRequest(cfg, history)
	if err != nil {
		return err
	}
	return h.fetcher.Stream(ctx, req, func(line string) {
		if text, ok := h.adapter.ParseLine(line); ok && text != "" {
			onChunk(text)
		}
	}, h.adapter.ErrorMessage)
}

// =============================================================================
// BUILT-IN ADAPTERS
// =============================================================================

// Builtin returns one instance of every built-in adapter.
func Builtin() []Adapter {
	return []Adapter{
		NewOpenAI(),
		NewOpenRouter(),
		NewAnthropic(),
		NewGemini(),
		NewOllama(),
		NewCustom(),
	}
}

// endpointOr returns cfg.Endpoint without a trailing slash, or def.
func endpointOr(cfg Config, def string) string {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		ep = def
	}
	return strings.TrimRight(ep, "/")
}

// systemPrompt returns the prompt to attach to a request.
func systemPrompt(cfg Config) string {
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		return cfg.SystemPrompt
	}
	return DefaultSystemPrompt
}

// dataPayload returns the JSON after a "data:" prefix. ok is false for
// non-data lines and the [DONE] terminator.
func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(line[len("data:"):])
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	return payload, true
}
