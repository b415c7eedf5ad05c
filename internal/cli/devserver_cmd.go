// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/logging"
	"github.com/morganforge/packmate/internal/testserver"
)

func (c *CLI) devserverCommand() *cobra.Command {
	var (
		addr       string
		auditLimit int
		delay      time.Duration
		seed       int
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local backend for development",
		Long: `Serve the mini-app API from memory. Replies echo the question and
audits return a canned review. Two accounts exist: one ready to use and one
that still needs onboarding. Their assertions are printed on start.`,
		Example: `  $ packmate devserver --addr 127.0.0.1:8000 &
  $ PACKMATE_SERVER=http://127.0.0.1:8000/api/miniapp packmate ask привет`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := []testserver.Option{
				testserver.WithLogger(logger),
				testserver.WithTokenDelay(delay),
			}
			if auditLimit > 0 {
				opts = append(opts, testserver.WithAuditLimit(auditLimit))
			}
			srv := testserver.New(opts...)
			if seed > 0 {
				if err := srv.SeedHistory(testserver.AssertionValid, seed); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, TitleStyle.Render("packmate devserver"))
			fmt.Fprintln(w, RenderField("Base URL", fmt.Sprintf("http://%s%s", addr, testserver.BasePath)))
			fmt.Fprintln(w, RenderField("Ready account", testserver.AssertionValid))
			fmt.Fprintln(w, RenderField("Onboarding", testserver.AssertionOnboarding))

			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().IntVar(&auditLimit, "audit-limit", 0, "weekly audit limit, 0 keeps the default")
	cmd.Flags().DurationVar(&delay, "delay", 30*time.Millisecond, "pause between streamed chunks")
	cmd.Flags().IntVar(&seed, "seed", 0, "chat messages to pre-fill for the ready account")
	return cmd
}
