package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"

	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/config"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping RPC endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %d protocol(s), %d sink(s))\n", cfg.Version, len(cfg.Protocols), len(cfg.Sinks))

		abis, err := chain.LoadABIs(cfg.Chain.ABIDirs)
		if err != nil {
			return fmt.Errorf("abis invalid: %w", err)
		}
		if abis.Files() > 0 {
			fmt.Fprintf(out, "- abis: %d file(s), %d method(s)\n", abis.Files(), abis.Len())
		}

		failures := 0
		endpoints := []struct{ name, url string }{
			{"rpc", cfg.Chain.RPCURL},
			{"ws", cfg.Chain.WSURL},
		}
		for _, ep := range endpoints {
			if ep.url == "" {
				fmt.Fprintf(out, "- %s: not configured\n", ep.name)
				continue
			}
			chainID, err := pingEVM(cmd.Context(), ep.url)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- %s: ERROR %v\n", ep.name, err)
				continue
			}
			fmt.Fprintf(out, "- %s: chainId %s OK\n", ep.name, chainID)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingEVM(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	var id hexutil.Big
	if err := c.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return "", fmt.Errorf("call eth_chainId: %w", err)
	}
	if id.ToInt().Sign() == 0 {
		return "", errors.New("empty chainId result")
	}
	return id.ToInt().String(), nil
}
