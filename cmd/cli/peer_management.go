package cli

// peer_management.go – CLI for libp2p peer discovery/connection
// management. Rebuilt against the shared App singleton (app.go) rather
// than a package-level netInit/netMu/netNode bootstrap, since Nodalync's
// node is wired once for the whole command tree rather than per command
// group.

import (
	"fmt"

	"github.com/spf13/cobra"
)

func peerDiscover(cmd *cobra.Command, _ []string) error {
	for _, p := range app.Peers.DiscoverPeers() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\trtt=%.1fms\n", p.ID, p.Addr, p.RTT)
	}
	return nil
}

func peerConnect(cmd *cobra.Command, args []string) error {
	return app.Peers.Connect(args[0])
}

func peerAdvertise(cmd *cobra.Command, args []string) error {
	topic := "nodalync-peer"
	if len(args) > 0 {
		topic = args[0]
	}
	return app.Peers.AdvertiseSelf(topic)
}

func peerList(cmd *cobra.Command, _ []string) error {
	for _, p := range app.Peers.Peers() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Addr)
	}
	return nil
}

// PeerCmd is the `nodalync peer` command group.
var PeerCmd = &cobra.Command{
	Use:               "peer",
	Short:             "Discover, connect and advertise to peers",
	PersistentPreRunE: appInit,
}

var peerDiscoverCmd = &cobra.Command{Use: "discover", Short: "List newly discovered peers", Args: cobra.NoArgs, RunE: peerDiscover}
var peerConnectCmd = &cobra.Command{Use: "connect <multiaddr>", Short: "Connect to a peer", Args: cobra.ExactArgs(1), RunE: peerConnect}
var peerAdvertiseCmd = &cobra.Command{Use: "advertise [topic]", Short: "Advertise this node on a topic", Args: cobra.RangeArgs(0, 1), RunE: peerAdvertise}
var peerListCmd = &cobra.Command{Use: "list", Short: "List currently known peers", Args: cobra.NoArgs, RunE: peerList}

func init() {
	PeerCmd.AddCommand(peerDiscoverCmd, peerConnectCmd, peerAdvertiseCmd, peerListCmd)
}
