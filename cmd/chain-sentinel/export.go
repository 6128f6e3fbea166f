package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/devblac/chain-sentinel/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportLimit  int
	flagExportOut    string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 0, "Maximum alerts to export (0 = all)")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Write to file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:       "export alerts|subscriptions",
	Short:     "Export stored alerts or subscriptions as json or csv",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"alerts", "subscriptions"},
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unsupported format %q", flagExportFormat)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.requireStore()
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagExportOut, err)
			}
			defer f.Close()
			w = f
		}

		switch args[0] {
		case "alerts":
			alerts, err := store.ListAlerts(cmd.Context(), flagExportLimit)
			if err != nil {
				return err
			}
			if format == "csv" {
				return writeAlertsCSV(w, alerts)
			}
			return writeJSON(w, alerts)
		default:
			subs, err := store.ListSubscriptions(cmd.Context())
			if err != nil {
				return err
			}
			if format == "csv" {
				return writeSubscriptionsCSV(w, subs)
			}
			return writeJSON(w, subs)
		}
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeAlertsCSV(w io.Writer, alerts []alert.Alert) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "timestamp", "type", "severity", "source", "title", "message", "tx_hash", "acknowledged", "resolved"})
	for _, a := range alerts {
		_ = cw.Write([]string{
			a.ID,
			a.Timestamp.Format(time.RFC3339),
			string(a.Kind),
			string(a.Severity),
			a.Source,
			a.Title,
			a.Message,
			a.TxHash(),
			strconv.FormatBool(a.Acknowledged),
			strconv.FormatBool(a.Resolved),
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeSubscriptionsCSV(w io.Writer, subs []storage.Subscription) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"protocol", "address"})
	for _, s := range subs {
		_ = cw.Write([]string{s.Protocol, s.Address})
	}
	cw.Flush()
	return cw.Error()
}
