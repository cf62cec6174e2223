// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// SETTINGS
// =============================================================================

// ProviderConfig is the user configuration for one provider.
type ProviderConfig struct {
	Model    string `json:"model" toml:"model"`
	APIKey   string `json:"api_key,omitempty" toml:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
}

// CustomProvider is a user-defined OpenAI-compatible endpoint.
// ID is chosen by the user and must be unique among custom providers.
type CustomProvider struct {
	ID       string `json:"id" toml:"id"`
	Name     string `json:"name" toml:"name"`
	Model    string `json:"model" toml:"model"`
	APIKey   string `json:"api_key,omitempty" toml:"api_key,omitempty"`
	Endpoint string `json:"endpoint" toml:"endpoint"`
}

// Config returns the provider configuration of a custom provider.
func (c CustomProvider) Config() ProviderConfig {
	return ProviderConfig{Model: c.Model, APIKey: c.APIKey, Endpoint: c.Endpoint}
}

// Settings holds the user's provider selection and credentials.
type Settings struct {
	ActiveProvider string                    `json:"active_provider" toml:"active_provider"`
	Providers      map[string]ProviderConfig `json:"providers,omitempty" toml:"providers,omitempty"`
	Custom         []CustomProvider          `json:"custom,omitempty" toml:"custom,omitempty"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() Settings {
	return Settings{
		ActiveProvider: "ollama",
		Providers: map[string]ProviderConfig{
			"ollama": {Model: "llama3.2"},
		},
	}
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	out := s
	if s.Providers != nil {
		out.Providers = make(map[string]ProviderConfig, len(s.Providers))
		for k, v := range s.Providers {
			out.Providers[k] = v
		}
	}
	if s.Custom != nil {
		out.Custom = append([]CustomProvider(nil), s.Custom...)
	}
	return out
}

// FindCustom returns the custom provider with the given ID.
func (s *Settings) FindCustom(id string) (CustomProvider, bool) {
	for _, c := range s.Custom {
		if c.ID == id {
			return c, true
		}
	}
	return CustomProvider{}, false
}

// Resolve returns the configuration for the named provider. custom is true
// when name refers to a custom provider. ok is false when nothing is
// configured under that name.
func (s *Settings) Resolve(name string) (cfg ProviderConfig, custom bool, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ProviderConfig{}, false, false
	}
	if c, found := s.FindCustom(name); found {
		return c.Config(), true, true
	}
	cfg, ok = s.Providers[name]
	return cfg, false, ok
}

// SetProvider stores cfg for a built-in provider.
func (s *Settings) SetProvider(name string, cfg ProviderConfig) {
	if s.Providers == nil {
		s.Providers = make(map[string]ProviderConfig)
	}
	s.Providers[name] = cfg
}

// UpsertCustom adds or replaces the custom provider with c.ID.
func (s *Settings) UpsertCustom(c CustomProvider) {
	for i := range s.Custom {
		if s.Custom[i].ID == c.ID {
			s.Custom[i] = c
			return
		}
	}
	s.Custom = append(s.Custom, c)
}

// MaskKey returns a display form of an API key that never reveals more than
// its last four characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
