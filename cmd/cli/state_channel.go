package cli

// state_channel.go – CLI for the bilateral payment-channel state machine
// (§4.7): open/close/challenge/cancel-close/finalize/status/list/sign;
// close, challenge and sign take their snapshot from a --state JSON blob.
// Rebuilt against core.ChannelEngine,
// which tracks plain balances rather than an ECDSA-signed on-chain escrow.

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	core "nodalync/core"
)

func channelOpenHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	myDeposit, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid myDeposit: %w", err)
	}
	theirDeposit, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid theirDeposit: %w", err)
	}
	ch, err := app.Chans.Open(counterparty, myDeposit, theirDeposit)
	if err != nil {
		return err
	}
	enc, _ := json.MarshalIndent(ch, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

func readSnapshot(cmd *cobra.Command) (core.ChannelSnapshot, error) {
	var snap core.ChannelSnapshot
	raw, _ := cmd.Flags().GetString("state")
	if raw == "" {
		return snap, fmt.Errorf("--state JSON snapshot is required")
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return snap, fmt.Errorf("invalid --state JSON: %w", err)
	}
	return snap, nil
}

func channelCloseHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	snap, err := readSnapshot(cmd)
	if err != nil {
		return err
	}
	return app.Chans.InitiateClose(counterparty, snap)
}

func channelChallengeHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	snap, err := readSnapshot(cmd)
	if err != nil {
		return err
	}
	return app.Chans.Challenge(counterparty, snap)
}

func channelCancelCloseHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	return app.Chans.CancelClose(counterparty)
}

func channelFinalizeHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	ch, err := app.Chans.Finalize(counterparty)
	if err != nil {
		return err
	}
	enc, _ := json.MarshalIndent(ch, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

func channelStatusHandler(cmd *cobra.Command, args []string) error {
	counterparty, err := decodePeerID(args[0])
	if err != nil {
		return err
	}
	ch, err := app.Chans.Get(counterparty)
	if err != nil {
		return err
	}
	enc, _ := json.MarshalIndent(ch, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

func channelListHandler(cmd *cobra.Command, _ []string) error {
	chans, err := app.Chans.List()
	if err != nil {
		return err
	}
	enc, _ := json.MarshalIndent(chans, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

func channelSignHandler(cmd *cobra.Command, args []string) error {
	snap, err := readSnapshot(cmd)
	if err != nil {
		return err
	}
	sig := app.Chans.SignSnapshot(snap)
	fmt.Fprintln(cmd.OutOrStdout(), hexEncode(sig))
	return nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}

// ChannelCmd is the `nodalync channel` command group.
var ChannelCmd = &cobra.Command{
	Use:               "channel",
	Short:             "Open, update, close and inspect bilateral payment channels",
	PersistentPreRunE: appInit,
}

var channelOpenCmd = &cobra.Command{
	Use: "open <counterparty> <myDeposit> <theirDeposit>", Short: "Open a new channel", Args: cobra.ExactArgs(3),
	RunE: channelOpenHandler,
}
var channelCloseCmd = &cobra.Command{
	Use: "close <counterparty> --state <json>", Short: "Submit a signed snapshot to start the dispute/challenge period", Args: cobra.ExactArgs(1),
	RunE: channelCloseHandler,
}
var channelChallengeCmd = &cobra.Command{
	Use: "challenge <counterparty> --state <json>", Short: "Challenge a close with a higher-nonce signed snapshot", Args: cobra.ExactArgs(1),
	RunE: channelChallengeHandler,
}
var channelCancelCloseCmd = &cobra.Command{
	Use: "cancel-close <counterparty>", Short: "Cancel a pending close and return to Open", Args: cobra.ExactArgs(1),
	RunE: channelCancelCloseHandler,
}
var channelFinalizeCmd = &cobra.Command{
	Use: "finalize <counterparty>", Short: "Finalize a channel once its challenge period has elapsed", Args: cobra.ExactArgs(1),
	RunE: channelFinalizeHandler,
}
var channelStatusCmd = &cobra.Command{
	Use: "status <counterparty>", Short: "Show the current state of a channel", Args: cobra.ExactArgs(1),
	RunE: channelStatusHandler,
}
var channelListCmd = &cobra.Command{
	Use: "list", Short: "List all channels this node holds", Args: cobra.NoArgs,
	RunE: channelListHandler,
}
var channelSignCmd = &cobra.Command{
	Use: "sign --state <json>", Short: "Sign a channel snapshot with this node's identity", Args: cobra.NoArgs,
	RunE: channelSignHandler,
}

func init() {
	channelCloseCmd.Flags().String("state", "", "signed ChannelSnapshot JSON blob")
	channelChallengeCmd.Flags().String("state", "", "signed ChannelSnapshot JSON blob")
	channelSignCmd.Flags().String("state", "", "ChannelSnapshot JSON blob to sign")

	ChannelCmd.AddCommand(channelOpenCmd, channelCloseCmd, channelChallengeCmd,
		channelCancelCloseCmd, channelFinalizeCmd, channelStatusCmd, channelListCmd, channelSignCmd)
}
