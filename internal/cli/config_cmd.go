// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/config"
)

func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
		Example: `  $ packmate config show
  $ packmate config get api.base_url
  $ packmate config set ui.theme dark`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				path, _ := c.resolveConfigPath()
				fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("# "+path))
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				if args[0] == "identity.init_data" {
					return NewCommandError("config", "get", "the identity assertion is not printed", nil)
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return NewCommandError("config", "get", "known keys: "+strings.Join(config.Keys(), ", "), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one value in the config file",
			Args:  cobra.ExactArgs(2),
			RunE:  c.runConfigSet,
		},
	)
	return cmd
}

// runConfigSet edits the file itself, so environment and flag overrides
// are not written back.
func (c *CLI) runConfigSet(cmd *cobra.Command, args []string) error {
	path, err := c.resolveConfigPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return NewCommandError("config", "set", "failed to read "+path, err)
		}
	}
	if err := cfg.Set(args[0], args[1]); err != nil {
		return NewCommandError("config", "set", "known keys: "+strings.Join(config.Keys(), ", "), err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return NewCommandError("config", "set", "value rejected", err)
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(fmt.Sprintf("%s = %s", args[0], args[1])))
	return nil
}
