// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/provider"
)

// customHandlerName is the handler serving every custom provider.
const customHandlerName = "custom"

// allowedImageTypes are the accepted image MIME types.
var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// sendPlan is the resolved provider context of a validated send.
type sendPlan struct {
	name    string
	handler provider.Handler
	cfg     provider.Config
}

// validateSendLocked checks a send against the chat, settings and limits.
// It never mutates state.
func (e *Engine) validateSendLocked(chat *model.Chat, text string, img *model.Image) (sendPlan, error) {
	if strings.TrimSpace(text) == "" && img == nil {
		return sendPlan{}, invalid(ReasonEmpty, nil, "Type a message or attach an image.")
	}

	plan, err := e.resolveProviderLocked(chat)
	if err != nil {
		return sendPlan{}, err
	}

	if n := utf8.RuneCountInString(text); n > e.limits.MaxMessageLength {
		return sendPlan{}, invalid(ReasonTooLong, nil,
			"Message is too long (%d characters, maximum %d).", n, e.limits.MaxMessageLength)
	}

	if img != nil {
		if err := e.validateImage(img); err != nil {
			return sendPlan{}, err
		}
	}

	if len(chat.Messages) >= e.limits.MaxMessagesPerChat {
		return sendPlan{}, invalid(ReasonChatFull, nil,
			"This chat has reached the limit of %d messages. Start a new chat.", e.limits.MaxMessagesPerChat)
	}

	return plan, nil
}

// resolveProviderLocked picks the provider for chat (its own, else the
// active one), finds its handler and checks its credentials.
func (e *Engine) resolveProviderLocked(chat *model.Chat) (sendPlan, error) {
	name := strings.TrimSpace(chat.Provider)
	if name == "" {
		name = strings.TrimSpace(e.settings.ActiveProvider)
	}
	if name == "" {
		return sendPlan{}, invalid(ReasonProvider, nil, "No provider selected. Choose one in settings.")
	}

	pcfg, custom, _ := e.settings.Resolve(name)
	handlerName := name
	if custom {
		handlerName = customHandlerName
	}
	h, ok := e.handlers[handlerName]
	if !ok {
		return sendPlan{}, invalid(ReasonProvider, nil, "Provider %q is not supported.", name)
	}

	cfg := provider.Config{
		Model:        pcfg.Model,
		APIKey:       pcfg.APIKey,
		Endpoint:     pcfg.Endpoint,
		SystemPrompt: e.prompt,
	}
	if chat.Model != "" {
		cfg.Model = chat.Model
	}

	if err := provider.ValidateConfig(kindOf(h, custom), cfg); err != nil {
		return sendPlan{}, invalid(ReasonCredentials, err, "Provider %q is not configured: %v.", name, err)
	}
	return sendPlan{name: name, handler: h, cfg: cfg}, nil
}

// validateImage checks MIME type, base64 encoding and decoded size.
func (e *Engine) validateImage(img *model.Image) error {
	if !allowedImageTypes[strings.ToLower(img.MIMEType)] {
		return invalid(ReasonImage, nil, "Unsupported image type %q.", img.MIMEType)
	}
	if img.Data == "" {
		return invalid(ReasonImage, nil, "The image is empty.")
	}
	// PERFORMANCE: Check the encoded length before decoding a huge payload.
	if base64.StdEncoding.DecodedLen(len(img.Data)) > e.limits.MaxImageBytes+2 {
		return invalid(ReasonImage, nil, "The image is larger than %d bytes.", e.limits.MaxImageBytes)
	}
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return invalid(ReasonImage, err, "The image data is not valid base64.")
	}
	if len(raw) > e.limits.MaxImageBytes {
		return invalid(ReasonImage, nil, "The image is larger than %d bytes.", e.limits.MaxImageBytes)
	}
	return nil
}

// validateSettingsLocked requires the active provider to be known and
// configured, and every custom provider to carry a usable endpoint.
func (e *Engine) validateSettingsLocked(s model.Settings) error {
	seen := make(map[string]bool, len(s.Custom))
	for _, c := range s.Custom {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return invalid(ReasonSettings, nil, "Custom providers need an ID.")
		}
		if seen[id] {
			return invalid(ReasonSettings, nil, "Custom provider ID %q is used twice.", id)
		}
		if _, builtin := e.handlers[id]; builtin {
			return invalid(ReasonSettings, nil, "Custom provider ID %q clashes with a built-in provider.", id)
		}
		seen[id] = true
		if err := provider.ValidateEndpoint(c.Endpoint); err != nil {
			return invalid(ReasonSettings, err, "Custom provider %q: %v.", id, err)
		}
	}

	name := strings.TrimSpace(s.ActiveProvider)
	if name == "" {
		return invalid(ReasonSettings, nil, "No provider selected.")
	}
	pcfg, custom, _ := s.Resolve(name)
	handlerName := name
	if custom {
		handlerName = customHandlerName
	}
	h, ok := e.handlers[handlerName]
	if !ok {
		return invalid(ReasonSettings, nil, "Provider %q is not supported.", name)
	}
	err := provider.ValidateConfig(kindOf(h, custom), provider.Config{
		Model:    pcfg.Model,
		APIKey:   pcfg.APIKey,
		Endpoint: pcfg.Endpoint,
	})
	if err != nil {
		return invalid(ReasonSettings, err, "Provider %q is not configured: %v.", name, err)
	}
	return nil
}

// kindOf returns the handler's declared kind, defaulting by custom-ness.
func kindOf(h provider.Handler, custom bool) provider.Kind {
	if custom {
		return provider.KindCustom
	}
	if k, ok := h.(provider.Kinded); ok {
		return k.Kind()
	}
	return provider.KindHosted
}
