// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/config"
)

const version = "1.0.0"

// Options carries the process streams. Zero fields default to the os ones.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// CLI holds global flags shared by every command.
type CLI struct {
	opts Options

	configPath string
	server     string
	initData   string
	logLevel   string
	jsonOut    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	c := &CLI{opts: opts.withDefaults()}

	root := &cobra.Command{
		Use:     "packmate",
		Short:   "Terminal client for the SMM mentor",
		Version: version,
		Long: `Chat with the SMM mentor, audit posts and track your tasks from the terminal.

Sign-in uses the Telegram identity assertion from the config file,
PACKMATE_INIT_DATA, or --init-data.`,
		Example: `  # Full-screen client
  $ packmate

  # One question
  $ packmate ask "Как часто постить в сторис?"

  # Review a post from a file
  $ packmate audit - < post.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runTUI,
	}
	root.SetIn(c.opts.Stdin)
	root.SetOut(c.opts.Stdout)
	root.SetErr(c.opts.Stderr)
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("packmate version %s\n", version))

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default ~/.packmate/config.toml)")
	pf.StringVarP(&c.server, "server", "s", "", "backend base URL, e.g. https://host/api/miniapp")
	pf.StringVar(&c.initData, "init-data", "", "identity assertion")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&c.jsonOut, "json", false, "print JSON instead of text where supported")

	root.AddCommand(
		c.tuiCommand(),
		c.chatCommand(),
		c.askCommand(),
		c.auditCommand(),
		c.historyCommand(),
		c.profileCommand(),
		c.tasksCommand(),
		c.archiveCommand(),
		c.configCommand(),
		c.devserverCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, opts Options) int {
	root := NewRootCommand(opts)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		DisplayError(root.ErrOrStderr(), err)
	}
	return ExitCode(err)
}

// =============================================================================
// CONFIG
// =============================================================================

func (c *CLI) resolveConfigPath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	return config.ConfigPath()
}

// loadConfig reads the config file and applies flag overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	path, err := c.resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}

	if c.server != "" {
		cfg.API.BaseURL = c.server
	}
	if c.initData != "" {
		cfg.Identity.InitData = c.initData
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
