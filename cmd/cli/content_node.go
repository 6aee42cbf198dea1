package cli

// content_node.go – CLI for publishing, deriving, updating and inspecting
// content artifacts (§4.3/§4.5): publish/derive/update/visibility/show/
// get/list, wired against core.ContentStore/core.ManifestManager.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	core "nodalync/core"
)

func parseVisibility(s string) (core.Visibility, error) {
	switch strings.ToLower(s) {
	case "private":
		return core.Private, nil
	case "unlisted":
		return core.Unlisted, nil
	case "shared":
		return core.Shared, nil
	default:
		return 0, fmt.Errorf("unknown visibility %q (want private|unlisted|shared)", s)
	}
}

func contentPublishHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")
	price, _ := cmd.Flags().GetUint64("price")
	visStr, _ := cmd.Flags().GetString("visibility")
	vis, err := parseVisibility(visStr)
	if err != nil {
		return err
	}
	meta := core.Metadata{Title: title}
	econ := core.Economics{Price: price}
	man, err := app.Manifests.PublishL0(app.ID.PeerID(), data, meta, econ, vis)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), man.Hash.Hex())
	return nil
}

func contentDeriveHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	parents := make([]core.Hash, 0, len(args)-1)
	for _, a := range args[1:] {
		h, err := decodeHash(a)
		if err != nil {
			return err
		}
		parents = append(parents, h)
	}
	title, _ := cmd.Flags().GetString("title")
	price, _ := cmd.Flags().GetUint64("price")
	visStr, _ := cmd.Flags().GetString("visibility")
	ctStr, _ := cmd.Flags().GetString("type")
	vis, err := parseVisibility(visStr)
	if err != nil {
		return err
	}
	ct := core.ContentL1
	if strings.EqualFold(ctStr, "l3") {
		ct = core.ContentL3
	}
	meta := core.Metadata{Title: title}
	econ := core.Economics{Price: price}
	man, err := app.Manifests.Derive(app.ID.PeerID(), data, meta, econ, vis, ct, parents)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), man.Hash.Hex())
	return nil
}

func contentUpdateHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")
	man, err := app.Manifests.Update(hash, app.ID.PeerID(), data, core.Metadata{Title: title})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), man.Hash.Hex())
	return nil
}

func contentVisibilityHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	vis, err := parseVisibility(args[1])
	if err != nil {
		return err
	}
	return app.Manifests.SetVisibility(hash, app.ID.PeerID(), vis)
}

func contentShowHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	man, err := app.Store.GetManifest(hash)
	if err != nil {
		return err
	}
	enc, _ := json.MarshalIndent(man, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(enc))
	return nil
}

func contentGetHandler(cmd *cobra.Command, args []string) error {
	hash, err := decodeHash(args[0])
	if err != nil {
		return err
	}
	stored, err := app.Store.Get(hash)
	if err != nil {
		return err
	}
	out := "-"
	if len(args) == 2 {
		out = args[1]
	}
	if out == "-" {
		_, err := os.Stdout.Write(stored.Bytes)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, stored.Bytes, 0o644)
}

func contentListHandler(cmd *cobra.Command, args []string) error {
	for _, h := range app.Store.ListByOwner(app.ID.PeerID()) {
		fmt.Fprintln(cmd.OutOrStdout(), h.Hex())
	}
	return nil
}

// ContentCmd is the `nodalync content` command group.
var ContentCmd = &cobra.Command{
	Use:               "content",
	Short:             "Publish, derive, update and inspect content artifacts",
	PersistentPreRunE: appInit,
}

var contentPublishCmd = &cobra.Command{
	Use: "publish <file>", Short: "Publish a new L0 leaf artifact", Args: cobra.ExactArgs(1),
	RunE: contentPublishHandler,
}
var contentDeriveCmd = &cobra.Command{
	Use: "derive <file> <parentHash...>", Short: "Publish a derived L1/L3 artifact", Args: cobra.MinimumNArgs(2),
	RunE: contentDeriveHandler,
}
var contentUpdateCmd = &cobra.Command{
	Use: "update <hash> <file>", Short: "Publish a new version of an owned artifact", Args: cobra.ExactArgs(2),
	RunE: contentUpdateHandler,
}
var contentVisibilityCmd = &cobra.Command{
	Use: "visibility <hash> <private|unlisted|shared>", Short: "Change an artifact's visibility", Args: cobra.ExactArgs(2),
	RunE: contentVisibilityHandler,
}
var contentShowCmd = &cobra.Command{
	Use: "show <hash>", Short: "Print an artifact's manifest as JSON", Args: cobra.ExactArgs(1),
	RunE: contentShowHandler,
}
var contentGetCmd = &cobra.Command{
	Use: "get <hash> [output|-]", Short: "Write an artifact's raw bytes to a file or stdout", Args: cobra.RangeArgs(1, 2),
	RunE: contentGetHandler,
}
var contentListCmd = &cobra.Command{
	Use: "list", Short: "List artifacts owned by this node", Args: cobra.NoArgs,
	RunE: contentListHandler,
}

func init() {
	contentPublishCmd.Flags().String("title", "", "artifact title")
	contentPublishCmd.Flags().Uint64("price", 0, "query price in smallest token unit")
	contentPublishCmd.Flags().String("visibility", "private", "private|unlisted|shared")

	contentDeriveCmd.Flags().String("title", "", "artifact title")
	contentDeriveCmd.Flags().Uint64("price", 0, "query price in smallest token unit")
	contentDeriveCmd.Flags().String("visibility", "private", "private|unlisted|shared")
	contentDeriveCmd.Flags().String("type", "l1", "l1|l3")

	contentUpdateCmd.Flags().String("title", "", "updated title")

	ContentCmd.AddCommand(contentPublishCmd, contentDeriveCmd, contentUpdateCmd,
		contentVisibilityCmd, contentShowCmd, contentGetCmd, contentListCmd)
}
