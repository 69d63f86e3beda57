package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saker-ai/cometrpc/pkg/comet"
)

func callCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call METHOD [PARAMS_JSON]",
		Short: "Send one request and print its result",
		Example: `  cometctl call ping
  cometctl call rename '{"name":"otter"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rawParams string
			if len(args) == 2 {
				rawParams = args[1]
			}
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, flags.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			session := comet.NewSession(sessionConfig(cfg.Client), comet.Callbacks{}, logger)
			defer session.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var p any
			if params != nil {
				p = params
			}
			result, err := session.Call(ctx, args[0], p)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "how long to wait for the reply")
	return cmd
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	out.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(out.Bytes())
	return err
}
