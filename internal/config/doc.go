// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatterm.
//
// Configuration lives in a TOML file with sensible defaults, environment
// variable overrides, and validation that reports every problem at once.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ProviderConfig: Completion endpoint, model and sampling settings
//   - StorageConfig: KV backend, location and key for the conversation log
//   - RevealConfig: Reveal speed and persistence throttle
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATTERM_*)
//   - ~/.chatterm/config.toml (or $CHATTERM_HOME/config.toml)
//   - Built-in defaults
//
// # Credentials
//
// The API key is never part of Config. It is read from the environment
// variable named by provider.api_key_env, after .env files in the working
// directory and the config directory have been loaded with LoadDotEnv.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	key, _ := cfg.APIKey()
//	client := cloud.NewClient(key, cfg.CloudConfig())
package config
