// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the packmate command line.
//
// Every command follows the same path: load config, set up logging, sign in
// through the gate, then talk to the backend with a client bound to the
// session token. Nothing except sign-in reaches the backend before the gate
// reports Authenticated.
//
// # Commands
//
//   - tui: full-screen client (default)
//   - chat: line-based chat with history and rating
//   - ask: one question, reply streamed to stdout
//   - audit: post review, and audit history
//   - history, profile, tasks: read-only views and task submission
//   - archive: local copy of finished exchanges, with search and export
//   - config: show, get and set configuration keys
//   - devserver: local backend for development
//
// # Exit codes
//
// 0 on success, 2 when the account still needs onboarding in the bot, 1 for
// everything else.
package cli
