package main

import (
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "check <config.yaml>",
		Short: "Validate a config file and print the effective config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0], overrides)
			if err != nil {
				return err
			}
			printConfig("check", cfg)
			reportUnused(cfg)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "override a config value, e.g. --set logs.polling.duration=300")
	return cmd
}
