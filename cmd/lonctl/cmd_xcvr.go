package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lonworks/lon-device-stack/internal/link"
)

var xcvrID int

var xcvrCmd = &cobra.Command{
	Use:   "xcvr",
	Short: "Print a transceiver's comm-params template",
	Long:  `Looks up the comm-params byte template for a standard transceiver ID, applying any override previously loaded via link.LoadOverride for that ID.`,
	RunE:  runXcvr,
}

func init() {
	xcvrCmd.Flags().IntVar(&xcvrID, "xid", 0, "transceiver ID")
}

func runXcvr(cmd *cobra.Command, args []string) error {
	tmpl, err := link.GetStandardTransceiverID(xcvrID)
	if err != nil {
		return fmt.Errorf("looking up transceiver %d: %w", xcvrID, err)
	}
	fmt.Fprintf(os.Stdout, "Transceiver %d comm-params: %s\n", xcvrID, hex.EncodeToString(tmpl[:]))
	return nil
}
