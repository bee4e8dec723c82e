// Command panwatch runs the agent scheduler and its HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

var (
	configPath string
	dataDir    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "panwatch",
		Short:         "AI stock-watch agents on a cron schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to panwatch.yaml (defaults to $PANWATCH_CONFIG or the app config dir)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for storing database and application data")

	root.AddCommand(newServeCmd(), newTriggerCmd(), newAgentsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		exit(1)
	}
}

func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}
