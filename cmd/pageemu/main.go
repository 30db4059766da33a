package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "pageemu",
	Short: "Browser page-view emulation for chat-bot analytics",
	Long: `pageemu turns chat-bot events into gtag page views and events by driving
isolated browser sessions over the Chrome DevTools Protocol.

Each end user gets a dedicated browser context. The number of live
contexts is bounded, excess requests wait in per-user queues and idle
sessions are recycled after a timeout with their cookies persisted.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: built-in defaults)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loadtestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
