package main

import (
	"os"

	"github.com/eser/ajan/configfx"
	"github.com/spf13/cobra"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/api_client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "speedstein",
		Short:         "Render documents and inspect the speedstein service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	config := &api_client.Config{} //nolint:exhaustruct

	cl := configfx.NewConfigManager()

	err := cl.LoadDefaults(config)
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}

		return rootCmd
	}

	rootCmd.PersistentFlags().StringVar(&config.BaseURL, "url", config.BaseURL, "Service base URL")
	rootCmd.PersistentFlags().StringVar(&config.Identity, "identity", config.Identity, "Identity used for pool routing")

	rootCmd.AddCommand(
		newRenderCmd(config),
		newStatsCmd(config),
		newJobsCmd(config),
		newJobCmd(config),
		newPingCmd(config),
	)

	return rootCmd
}
