package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagRecentLimit int
	flagMaxBlocks   uint64

	flagExploitProtocol string
	flagExploitTitle    string
	flagExploitMessage  string
)

func init() {
	recentCmd.Flags().IntVar(&flagRecentLimit, "limit", 20, "Maximum transactions to return")
	recentCmd.Flags().Uint64Var(&flagMaxBlocks, "max-blocks", 1000, "Stop walking back after this many blocks (0 = no bound)")

	triggerExploitCmd.Flags().StringVar(&flagExploitProtocol, "protocol", "", "Protocol under attack")
	triggerExploitCmd.Flags().StringVar(&flagExploitTitle, "title", "", "Alert title")
	triggerExploitCmd.Flags().StringVar(&flagExploitMessage, "message", "", "Alert message")
	_ = triggerExploitCmd.MarkFlagRequired("protocol")
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the most recent transactions as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := a.monitorOptions(nil, nil)
		if err != nil {
			return err
		}
		opts.MaxScanBlocks = flagMaxBlocks
		mon, client := a.monitor(ctx, opts, nil, nil, a.cfg.Chain.RPCURL, "")
		defer client.Close()
		if !mon.Connected() {
			return fmt.Errorf("chain unavailable at %q", a.cfg.Chain.RPCURL)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, tx := range mon.GetRecentTransactions(ctx, flagRecentLimit) {
			if err := enc.Encode(tx); err != nil {
				return err
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard statistics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := a.monitorOptions(nil, nil)
		if err != nil {
			return err
		}
		mon, client := a.monitor(ctx, opts, nil, nil, a.cfg.Chain.RPCURL, "")
		defer client.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Status any `json:"status"`
			Stats  any `json:"stats"`
		}{mon.Status(), mon.GetDashboardStats(ctx)})
	},
}

var triggerExploitCmd = &cobra.Command{
	Use:   "trigger-exploit",
	Short: "Raise a critical exploit alert for a protocol's subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reg, err := a.registry(ctx)
		if err != nil {
			return fmt.Errorf("load subscriptions: %w", err)
		}
		opts, err := a.monitorOptions(nil, nil)
		if err != nil {
			return err
		}
		targets, err := a.targets()
		if err != nil {
			return err
		}
		bc := a.broadcaster(targets, nil)

		// exploit alerts need no chain connection
		mon, client := a.monitor(ctx, opts, bc, reg, "", "")
		defer client.Close()

		n, err := mon.TriggerExploit(ctx, flagExploitProtocol, flagExploitTitle, flagExploitMessage)
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := bc.Close(closeCtx); cerr != nil {
			a.log.Warn("alert delivery did not drain", "error", cerr)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exploit alert sent to %d sink(s), %d subscriber(s) notified\n", len(targets), n)
		return nil
	},
}
