package main

import (
	"fmt"

	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/monitor"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the block cursor and processing lag",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.requireStore()
		if err != nil {
			return err
		}

		height, hash, ok, err := store.GetCursor(cmd.Context(), monitor.CursorBlocks)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s: no cursor yet\n", monitor.CursorBlocks)
			return nil
		}

		client := chain.NewClient(a.log, a.cfg.Chain.RequestTimeout)
		defer client.Close()
		if !client.Connect(cmd.Context(), a.cfg.Chain.RPCURL, "") {
			fmt.Fprintf(out, "%s: height %d hash %s lag unknown\n", monitor.CursorBlocks, height, hash)
			return nil
		}
		latest, err := client.LatestBlockNumber(cmd.Context())
		if err != nil {
			return err
		}
		var lag uint64
		if latest > height {
			lag = latest - height
		}
		fmt.Fprintf(out, "%s: height %d hash %s latest %d lag %d\n", monitor.CursorBlocks, height, hash, latest, lag)
		return nil
	},
}
