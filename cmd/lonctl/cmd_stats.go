package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print table occupancy for the persisted stack",
	Long: `There is no running daemon for lonctl to query live link
counters from, so stats reports what can be derived from the persisted
store: table capacities from the read-only data block, how many domain
slots hold a non-flex domain, and the error log. Address and NV
occupancy is not counted.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	stack, _, err := openStack(globalStoreDir)
	if err != nil {
		return fmt.Errorf("loading device stack: %w", err)
	}

	validDomains := 0
	for i := 0; i < int(stack.RO.NumDomains); i++ {
		d, err := stack.Domains.Get(i)
		if err == nil && !d.IsFlex() {
			validDomains++
		}
	}

	fmt.Fprintf(os.Stdout, "Domain table:  %d/%d populated\n", validDomains, stack.RO.NumDomains)
	fmt.Fprintf(os.Stdout, "Address table: capacity %d\n", stack.RO.NumAddresses)
	fmt.Fprintf(os.Stdout, "NV table:      capacity %d\n", stack.RO.NumNVs)
	fmt.Fprintf(os.Stdout, "Alias table:   capacity %d\n", stack.RO.NumAliases)
	fmt.Fprintf(os.Stdout, "Monitor set:   capacity %d\n", stack.RO.NumMonitorPoints)
	fmt.Fprintf(os.Stdout, "Error log:     %d\n", stack.ErrorLog())
	return nil
}
