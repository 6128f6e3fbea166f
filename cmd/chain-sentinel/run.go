package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devblac/chain-sentinel/internal/health"
	"github.com/devblac/chain-sentinel/internal/metrics"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Score and log alerts without sending to sinks")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the block and mempool monitor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		targets, err := a.targets()
		if err != nil {
			return err
		}
		bc := a.broadcaster(targets, mtr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := bc.Close(shutdownCtx); err != nil {
				log.Warn("alert delivery did not drain", "error", err)
			}
		}()

		reg, err := a.registry(ctx)
		if err != nil {
			return fmt.Errorf("load subscriptions: %w", err)
		}
		policy, err := a.policy(flagDryRun)
		if err != nil {
			return err
		}
		opts, err := a.monitorOptions(policy, mtr)
		if err != nil {
			return err
		}
		mon, client := a.monitor(ctx, opts, bc, reg, a.cfg.Chain.RPCURL, a.cfg.Chain.WSURL)
		defer client.Close()

		if flagHealth != "" {
			checker := health.Checker{
				RPCPing: health.NewRPCChecker(client, client.Connected).Ping,
				Running: func() bool { return mon.Status().Running },
			}
			if a.store != nil {
				checker.DBPing = a.store.Ping
			}
			healthSrv := health.Serve(flagHealth, checker)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		mon.Start(ctx)
		log.Info("monitor running",
			"network", a.cfg.Chain.NetworkSymbol,
			"threshold", a.cfg.Alerts.Threshold(),
			"sinks", len(targets),
			"dry_run", flagDryRun || a.cfg.Alerts.DryRun)

		<-ctx.Done()
		log.Info("shutting down")
		mon.Stop()
		return nil
	},
}
