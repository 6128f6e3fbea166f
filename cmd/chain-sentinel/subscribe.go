package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagSubAddress  string
	flagSubProtocol string
)

func init() {
	for _, c := range []*cobra.Command{subscribeCmd, unsubscribeCmd} {
		c.Flags().StringVar(&flagSubAddress, "address", "", "Wallet address")
		c.Flags().StringVar(&flagSubProtocol, "protocol", "", "Protocol name")
		_ = c.MarkFlagRequired("address")
		_ = c.MarkFlagRequired("protocol")
	}
	subscriptionsCmd.Flags().StringVar(&flagSubAddress, "address", "", "Only protocols this address follows")
	subscriptionsCmd.Flags().StringVar(&flagSubProtocol, "protocol", "", "Only addresses following this protocol")
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe an address to a protocol's exploit alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(flagSubProtocol) == "" || strings.TrimSpace(flagSubAddress) == "" {
			return errors.New("address and protocol must not be blank")
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
		if err := store.AddSubscription(cmd.Context(), flagSubProtocol, flagSubAddress); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "subscribed %s to %s\n", strings.ToLower(flagSubAddress), strings.ToLower(flagSubProtocol))
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove an address from a protocol's exploit alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.requireStore()
		if err != nil {
			return err
		}
		if err := store.RemoveSubscription(cmd.Context(), flagSubProtocol, flagSubAddress); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unsubscribed %s from %s\n", strings.ToLower(flagSubAddress), strings.ToLower(flagSubProtocol))
		return nil
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List protocol subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reg, err := a.registry(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case flagSubAddress != "":
			for _, p := range reg.ProtocolsFor(flagSubAddress) {
				fmt.Fprintln(out, p)
			}
		case flagSubProtocol != "":
			for _, addr := range reg.AddressesFor(flagSubProtocol) {
				fmt.Fprintln(out, addr)
			}
		default:
			if a.store == nil {
				seen := map[string]bool{}
				for _, s := range a.cfg.Subscriptions {
					protocol := strings.ToLower(strings.TrimSpace(s.Protocol))
					if seen[protocol] {
						continue
					}
					seen[protocol] = true
					for _, addr := range reg.AddressesFor(protocol) {
						fmt.Fprintf(out, "%s\t%s\n", protocol, addr)
					}
				}
				return nil
			}
			subs, err := a.store.ListSubscriptions(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range subs {
				fmt.Fprintf(out, "%s\t%s\n", s.Protocol, s.Address)
			}
		}
		return nil
	},
}
