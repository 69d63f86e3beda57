package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saker-ai/cometrpc/pkg/comet"
)

func listenCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "listen METHOD...",
		Short:   "Print notifications for the given methods until interrupted",
		Example: `  cometctl listen hello greet publish goodbye`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, flags.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lost := make(chan error, 1)
			session := comet.NewSession(sessionConfig(cfg.Client), comet.Callbacks{
				OnDisconnected: func(err error) {
					lost <- err
				},
			}, logger)
			defer session.Close()

			out := cmd.OutOrStdout()
			for _, method := range args {
				method := method // per-iteration copy (pre-Go 1.22 loop semantics)
				session.Handle(method, func(params json.RawMessage, _ *comet.Session) {
					fmt.Fprintf(out, "%s %s\n", method, params)
				})
			}

			if _, err := session.Connect(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case err := <-lost:
				return fmt.Errorf("connection lost: %w", err)
			}
		},
	}
}
