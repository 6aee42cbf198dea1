package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	core "nodalync/core"
)

func decodeHash(s string) (core.Hash, error) {
	var h core.Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid content hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func decodePeerID(s string) (core.PeerID, error) {
	var p core.PeerID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(p) {
		return p, fmt.Errorf("invalid peer id %q", s)
	}
	copy(p[:], b)
	return p, nil
}

func accessGrantHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	peer, err := decodePeerID(args[1])
	if err != nil {
		return err
	}
	return app.Access.Grant(hash, app.ID.PeerID(), peer)
}

func accessRevokeHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	peer, err := decodePeerID(args[1])
	if err != nil {
		return err
	}
	return app.Access.Revoke(hash, app.ID.PeerID(), peer)
}

func accessCheckHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	peer, err := decodePeerID(args[1])
	if err != nil {
		return err
	}
	bond := uint64(0)
	if len(args) > 2 {
		b, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bond: %w", err)
		}
		bond = b
	}
	if err := app.Access.CheckAccess(hash, peer, bond); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "denied:", err)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "allowed")
	return nil
}

// AccessCmd is the `nodalync access` command group: grant/revoke allowlist
// entries on artifacts you own, and check whether a peer currently passes
// the access check (§4.6's access-control layer). The allowlist applies to
// Private and Unlisted artifacts; Shared artifacts ignore it.
var AccessCmd = &cobra.Command{
	Use:               "access",
	Short:             "Manage per-artifact allowlist grants",
	PersistentPreRunE: appInit,
}

var acGrantCmd = &cobra.Command{
	Use: "grant <hash> <peer>", Short: "Add a peer to the allowlist of an artifact you own",
	Args: cobra.ExactArgs(2), RunE: accessGrantHandler,
}
var acRevokeCmd = &cobra.Command{
	Use: "revoke <hash> <peer>", Short: "Revoke a previously granted access",
	Args: cobra.ExactArgs(2), RunE: accessRevokeHandler,
}
var acCheckCmd = &cobra.Command{
	Use: "check <hash> <peer> [bond]", Short: "Check whether a peer is currently allowed access",
	Args: cobra.RangeArgs(2, 3), RunE: accessCheckHandler,
}

func init() {
	AccessCmd.AddCommand(acGrantCmd, acRevokeCmd, acCheckCmd)
}
