// Command runwatch runs a webhook front end, a flow job worker and the reply
// watchers that connect them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register every built-in transport with the default registry.
	_ "github.com/drblury/runwatch/transport/transports"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "runwatch",
	Short: "Wait for asynchronous flow runs from synchronous HTTP calls",
	Long: `runwatch accepts webhook calls, hands each flow run to a worker over a
message broker and, for sync webhooks, holds the request open until the run
replies or the webhook timeout answers with 204.

Configuration comes from RUNWATCH_* environment variables, optionally loaded
from dotenv files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the environment (missing files are skipped)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
