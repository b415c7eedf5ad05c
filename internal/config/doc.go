// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for packmate.
//
// # Key Types
//
//   - Config: main configuration structure
//   - APIConfig: backend address, timeouts and the request limiter
//   - IdentityConfig: where the identity assertion comes from
//   - LogConfig: level, format and destination of logs
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PACKMATE_*), including those set by .env
//   - ~/.packmate/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := api.New(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout()})
package config
