// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the bearer session obtained from an identity assertion.
//
// The assertion (Telegram initData) is opaque: the manager forwards it to the
// backend unchanged and never parses it. The resulting token lives in memory
// only, from a successful Authenticate until Logout or process exit.
//
// # Key Types
//
//   - Manager: exchanges assertions for sessions and hands out the token
//   - Session: token plus the user identity, role and subscription tier
//   - AuthError: AuthFailed or OnboardingRequired
//
// # Usage
//
//	mgr := session.NewManager(apiClient)
//	sess, err := mgr.Authenticate(ctx, initData)
//	if session.IsOnboardingRequired(err) {
//	    // the user must finish setup in the bot first
//	}
//	authed := apiClient.WithTokens(mgr)
//
// There is no refresh. A 401 on a later call is reported to the caller, which
// decides whether to log out and authenticate again.
package session
