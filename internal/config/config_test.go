// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every PACKMATE_* override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvServer, EnvInitData, EnvInitDataFile, EnvLogLevel, EnvArchive} {
		t.Setenv(k, "")
	}
	// .env is read from the working directory.
	wd, _ := os.Getwd()
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Chat.HistoryPageSize)
	assert.Equal(t, 10, cfg.Audit.HistoryPageSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout())
	assert.True(t, strings.HasSuffix(cfg.Archive.Path, "archive.db"))
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}

func TestLoadFromPath_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[api]
base_url = "https://mentor.example.com/api/miniapp/"
timeout_secs = 5

[chat]
history_page_size = 80

[archive]
enabled = false
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mentor.example.com/api/miniapp", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.API.TimeoutSecs)
	assert.Equal(t, MaxPageSize, cfg.Chat.HistoryPageSize)
	assert.False(t, cfg.Archive.Enabled)
	// Untouched keys keep defaults.
	assert.Equal(t, "packmate/1.0", cfg.API.UserAgent)
	assert.True(t, cfg.UI.Markdown)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[api]
base_url = "ftp://mentor"
timeout_secs = 9999

[log]
format = "xml"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, len(verrs))
	for i, v := range verrs {
		fields[i] = v.Field
	}
	assert.ElementsMatch(t, []string{"api.base_url", "api.timeout_secs", "log.format"}, fields)
}

func TestLoadFromPath_Malformed(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[api\nbase_url = ")

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServer, "https://env.example.com/api/miniapp")
	t.Setenv(EnvInitData, "query_id=1&hash=x")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvArchive, "/tmp/custom.db")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/api/miniapp", cfg.API.BaseURL)
	assert.Equal(t, "query_id=1&hash=x", cfg.Identity.InitData)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/tmp/custom.db", cfg.Archive.Path)
}

func TestApplyEnvOverrides_ArchiveOff(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvArchive, "off")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvInitDataFile)
	writeFile(t, ".env", EnvInitDataFile+"=/run/secrets/init\n")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/run/secrets/init", cfg.Identity.InitDataFile)
	os.Unsetenv(EnvInitDataFile)
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServer, "https://real.example.com")
	writeFile(t, ".env", EnvServer+"=https://dotenv.example.com\n")

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "https://real.example.com", os.Getenv(EnvServer))
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.API.BaseURL = "https://saved.example.com/api/miniapp"
	cfg.UI.Theme = "light"
	require.NoError(t, SaveTOML(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# packmate configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, loaded.API.BaseURL)
	assert.Equal(t, "light", loaded.UI.Theme)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("api.base_url")
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, v)

	require.NoError(t, cfg.Set("chat.history_page_size", "15"))
	assert.Equal(t, 15, cfg.Chat.HistoryPageSize)

	require.NoError(t, cfg.Set("api.rate_per_sec", "2.5"))
	assert.Equal(t, 2.5, cfg.API.RatePerSec)

	require.NoError(t, cfg.Set("identity.haptics", "off"))
	assert.False(t, cfg.Identity.Haptics)

	require.NoError(t, cfg.Set("ui.markdown", false))
	assert.False(t, cfg.UI.Markdown)

	tests := []struct {
		key   string
		value interface{}
	}{
		{"api.nope", "x"},
		{"api", "x"},
		{"version.sub", "x"},
		{"chat.history_page_size", "many"},
		{"identity.haptics", "maybe"},
		{"", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Error(t, cfg.Set(tt.key, tt.value))
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "version")
	assert.Contains(t, keys, "api.base_url")
	assert.Contains(t, keys, "log.add_source")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_RedactsAssertion(t *testing.T) {
	cfg := Default()
	cfg.Identity.InitData = "query_id=secret&hash=deadbeef"

	out := cfg.String()
	assert.NotContains(t, out, "deadbeef")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "query_id=secret&hash=deadbeef", cfg.Identity.InitData)
}
