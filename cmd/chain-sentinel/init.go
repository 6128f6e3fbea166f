package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: ./chain-sentinel.db
  log_level: info

chain:
  rpc_url: ${RPC_URL}
  # ws_url enables the block and mempool streams
  ws_url: ${WS_URL}
  network_symbol: BNB
  poll_interval: 2s
  backoff: 5s
  request_timeout: 10s
  abi_dirs: []

alerts:
  risk_threshold: 70
  emit_timeout: 5s
  max_in_flight: 64
  where: []
  dedupe:
    key: txhash
    ttl: 24h
  dry_run: false

protocols:
  - name: venus
    contracts: ["0xfD36E2c2a6789Db23113685031d7F16329158384"]

subscriptions:
  - protocol: venus
    addresses: []

sinks:
  - id: log
    type: log
  - id: history
    type: store
`

const sampleEnv = `RPC_URL=https://bsc-dataseed.binance.org
WS_URL=wss://bsc-ws-node.nariox.org:443
`

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config and .env next to it",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		files := []struct{ path, body string }{
			{cfgPath, sampleConfig},
			{envPath(cfgPath), sampleEnv},
		}
		for _, f := range files {
			if !flagInitForce {
				if _, err := os.Stat(f.path); err == nil {
					fmt.Fprintf(out, "skip %s (exists, use --force)\n", f.path)
					continue
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(f.path, []byte(f.body), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", f.path, err)
			}
			fmt.Fprintf(out, "wrote %s\n", f.path)
		}
		return nil
	},
}

func envPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}
