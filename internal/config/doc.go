// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// Configuration is TOML with defaults for every value, environment variable
// overrides and validation. Provider settings (active provider, API keys,
// models) are user data kept by the storage layer, not configuration.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - LimitsConfig: Title, message and image bounds
//   - FetchConfig: Provider request retry and pacing
//   - SaveConfig: Durable-save retry policy
//   - StorageConfig: Backend selection and data directory
//   - SyncConfig: How sibling processes learn about changes
//   - LoggingConfig: Level, format and output of the logger
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*)
//   - ~/.rigchat/config.toml, or the path given with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dir, _ := cfg.DataDir()
//	delay := cfg.Fetch.BaseDelay()
package config
