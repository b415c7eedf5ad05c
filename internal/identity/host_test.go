// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalHost_Value(t *testing.T) {
	h := NewTerminalHost(Config{Value: "query_id=1&hash=x", File: "/does/not/exist"})
	got, err := h.InitData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "query_id=1&hash=x", got)
}

func TestTerminalHost_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initdata")
	require.NoError(t, os.WriteFile(path, []byte("  user=%7B%7D&hash=y\n"), 0600))

	h := NewTerminalHost(Config{File: path})
	got, err := h.InitData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user=%7B%7D&hash=y", got)
}

func TestTerminalHost_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initdata")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))

	_, err := NewTerminalHost(Config{File: path}).InitData(context.Background())
	assert.ErrorIs(t, err, ErrNoAssertion)
}

func TestTerminalHost_Stdin(t *testing.T) {
	h := NewTerminalHost(Config{File: "-"}, WithStdin(strings.NewReader("abc=1\nignored\n")))

	got, err := h.InitData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc=1", got)

	// Cached on the second call.
	got, err = h.InitData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc=1", got)
}

func TestTerminalHost_Unconfigured(t *testing.T) {
	_, err := NewTerminalHost(Config{}).InitData(context.Background())
	assert.ErrorIs(t, err, ErrNoAssertion)
}

func TestTerminalHost_HapticBell(t *testing.T) {
	var bell bytes.Buffer
	h := NewTerminalHost(Config{Haptics: true}, WithBell(&bell))

	h.Haptic(HapticImpact)
	h.Haptic(HapticSuccess)
	assert.Empty(t, bell.String())

	h.Haptic(HapticError)
	assert.Equal(t, "\a", bell.String())

	bell.Reset()
	NewTerminalHost(Config{Haptics: false}, WithBell(&bell)).Haptic(HapticError)
	assert.Empty(t, bell.String())
}

func TestStaticHost(t *testing.T) {
	s := &StaticHost{Assertion: "a"}
	got, err := s.InitData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	s.Haptic(HapticSuccess)
	s.Haptic(HapticError)
	assert.Equal(t, []Haptic{HapticSuccess, HapticError}, s.Haptics())
}
