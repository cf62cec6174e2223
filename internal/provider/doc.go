// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider translates chat history to and from LLM backend wire formats.
//
// An Adapter is a pure translation layer: history to request, stream line to
// text chunk, error response to human-readable text. NewHandler pairs an
// Adapter with a fetch.Client to produce a Handler, which is what the engine
// registers under a provider name.
//
// # Key Types
//
//   - Adapter: Request builder, line parser and error extractor for one backend
//   - Handler: Streams one reply (the provider handler contract)
//   - Config: Resolved model, credentials, endpoint and system prompt
//   - Kind: Hosted, custom or local; decides which credentials are required
//
// # Built-in Adapters
//
//   - openai, openrouter: OpenAI chat completions over SSE
//   - anthropic: Messages API over SSE
//   - gemini: streamGenerateContent over SSE
//   - ollama: Local /api/chat, newline-delimited JSON
//   - custom: OpenAI-compatible server at a user endpoint
//
// # Usage
//
//	fetcher := fetch.NewClient()
//	for _, a := range provider.Builtin() {
//	    eng.RegisterProvider(a.Name(), provider.NewHandler(a, fetcher))
//	}
package provider
