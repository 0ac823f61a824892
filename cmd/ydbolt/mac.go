package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/lock"
)

func newMACCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mac <hardware-mac>",
		Short: "Derive the BLE address from the cloud hardware MAC",
		Long: `The cloud reports the bolt's MAC as 12 hex digits in reversed byte order.
This prints the address to use for BLE.

Example:
  ydbolt mac ab8967452301    # 01:23:45:67:89:AB`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mac, err := lock.DeriveMAC(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), mac)
			return err
		},
	}
}
