package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "confortd",
		Short:         "Confort billing service",
		Long:          "confortd keeps user billing tiers in sync with Stripe subscriptions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (CONFORT_* environment variables override it)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newSyncCommand(&configPath))
	return root
}
