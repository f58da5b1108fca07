package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device's persisted state",
	Long:  `Read the device stack from the store directory and print its node state, NM auth flag, channel ID, and table sizes.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	stack, blackout, err := openStack(globalStoreDir)
	if err != nil {
		return fmt.Errorf("loading device stack: %w", err)
	}

	fmt.Fprintf(os.Stdout, "State:        %s\n", stack.Config.State)
	fmt.Fprintf(os.Stdout, "NM auth:      %t\n", stack.Config.NMAuth)
	fmt.Fprintf(os.Stdout, "Channel ID:   %d\n", stack.Config.ChannelID)
	fmt.Fprintf(os.Stdout, "Xcvr ID:      %d\n", stack.Config.TransceiverID)
	fmt.Fprintf(os.Stdout, "Domains:      %d\n", stack.RO.NumDomains)
	fmt.Fprintf(os.Stdout, "Addresses:    %d\n", stack.RO.NumAddresses)
	fmt.Fprintf(os.Stdout, "NVs:          %d\n", stack.RO.NumNVs)
	fmt.Fprintf(os.Stdout, "Aliases:      %d\n", stack.RO.NumAliases)
	fmt.Fprintf(os.Stdout, "Error log:    %d\n", stack.ErrorLog())
	if blackout {
		fmt.Fprintln(os.Stdout, "Blackout:     detected on boot, next modifying command will be suppressed")
	}
	return nil
}
