package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath   string
	bootstrapURL string
	verbose      bool
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "cometctl",
		Short: "Talk to a comet gateway from the command line",
		Long: `cometctl opens a comet session against a gateway and issues calls or
prints pushed notifications.

The bootstrap endpoint, client identity and handshake settings come from
conf.yaml (or --config) and COMET_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to conf.yaml")
	rootCmd.PersistentFlags().StringVar(&flags.bootstrapURL, "bootstrap", "", "override client.bootstrap_url")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log session activity")

	rootCmd.AddCommand(
		callCmd(flags),
		listenCmd(flags),
		configCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
