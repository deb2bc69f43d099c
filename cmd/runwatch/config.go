package main

import (
	"fmt"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/runwatch/internal/runtime/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configpkg.Load(envFiles...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
