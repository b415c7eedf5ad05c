// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the packmate TUI.

# Color System (colors.go)

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection:

	Purple  - assistant replies and selections
	Cyan    - brand color and user messages
	Emerald - success states and positive ratings
	Amber   - warnings and onboarding notices
	Rose    - errors and failed replies

Status helpers (RenderSuccess, RenderError, ...) prefix an ASCII indicator
so meaning does not depend on color alone.

# Theme System (theme.go)

	theme := styles.NewTheme("auto")
	theme.SetSize(width, height)
	fmt.Println(theme.UserBubble.Render("Привет"))

# Markdown (markdown.go)

Finished assistant replies are rendered with glamour. Streaming text is shown
as-is so partial markdown does not jump around.
*/
package styles
