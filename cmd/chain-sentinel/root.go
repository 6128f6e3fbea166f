package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	logLevel string
	rootCmd  = &cobra.Command{
		Use:   "chain-sentinel",
		Short: "Real-time risk monitoring and alerting for EVM chains",
		Long: `chain-sentinel follows new blocks and the mempool of an EVM chain,
scores every transaction for risk and fans alerts out to the configured sinks.
Protocol subscribers are attached to alerts touching their contracts.`,
	}
)

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		validateCmd,
		runCmd,
		stateCmd,
		recentCmd,
		statsCmd,
		subscribeCmd,
		unsubscribeCmd,
		subscriptionsCmd,
		triggerExploitCmd,
		exportCmd,
	)
}

// Execute runs the root command tree.
func Execute(ctx context.Context) error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
