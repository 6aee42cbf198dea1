package cli

// distribution.go – CLI for the Distribution Engine (§4.9): inspecting and
// draining the queue of per-query DistributionCredits accumulated from
// channel payments, ahead of settlement batching.

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func distributionPendingHandler(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), app.Dist.PendingCount())
	return nil
}

func distributionDrainHandler(cmd *cobra.Command, args []string) error {
	credits := app.Dist.Drain()
	enc, _ := json.MarshalIndent(credits, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

// DistributionCmd is the `nodalync distribution` command group.
var DistributionCmd = &cobra.Command{
	Use:               "distribution",
	Short:             "Inspect and drain the synthesis-fee / provenance payout queue",
	PersistentPreRunE: appInit,
}

var distributionPendingCmd = &cobra.Command{
	Use: "pending", Short: "Print the number of credits awaiting settlement", Args: cobra.NoArgs,
	RunE: distributionPendingHandler,
}

var distributionDrainCmd = &cobra.Command{
	Use: "drain", Short: "Drain and print all pending distribution credits as JSON", Args: cobra.NoArgs,
	RunE: distributionDrainHandler,
}

func init() {
	DistributionCmd.AddCommand(distributionPendingCmd, distributionDrainCmd)
}
