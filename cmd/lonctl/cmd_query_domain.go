package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queryDomainIndex int

var queryDomainCmd = &cobra.Command{
	Use:   "query-domain",
	Short: "Print one domain table entry",
	RunE:  runQueryDomain,
}

func init() {
	queryDomainCmd.Flags().IntVar(&queryDomainIndex, "index", 0, "domain table index (0 or 1)")
}

func runQueryDomain(cmd *cobra.Command, args []string) error {
	stack, _, err := openStack(globalStoreDir)
	if err != nil {
		return fmt.Errorf("loading device stack: %w", err)
	}

	d, err := stack.Domains.Get(queryDomainIndex)
	if err != nil {
		return fmt.Errorf("querying domain %d: %w", queryDomainIndex, err)
	}

	if d.IsFlex() {
		fmt.Fprintf(os.Stdout, "Domain %d: flex (matches any incoming domain)\n", queryDomainIndex)
		return nil
	}

	fmt.Fprintf(os.Stdout, "Domain %d: id=%s length=%d subnet=%d node=%d clone=%t oma=%t\n",
		queryDomainIndex, hex.EncodeToString(d.ID[:d.Length]), d.Length, d.Subnet, d.Node, d.CloneFlag, d.OMA)
	return nil
}
