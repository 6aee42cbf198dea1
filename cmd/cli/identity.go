package cli

// identity.go – node identity management: create/import/show, built on
// the same PersistentPreRunE middleware and PreRunE flag-parsing-into-a-
// typed-struct pattern used across this command tree. There is no
// multi-account HD derivation or transaction-signing surface in
// Nodalync, only a single node keypair sealed at rest via core.Identity.

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	core "nodalync/core"
)

type identityCreateFlags struct {
	out string
}

type identityImportFlags struct {
	mnemonic   string
	passphrase string
	out        string
}

type ctxKey string

const flagsKey ctxKey = "flags"

// IdentityCmd is the `nodalync identity` command group.
var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Create, import and inspect node identities",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new identity and seal it to a keystore file",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("identity create: --out is required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), flagsKey, identityCreateFlags{out: out}))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Context().Value(flagsKey).(identityCreateFlags)
		pass := os.Getenv("NODALYNC_PASSPHRASE")
		if pass == "" {
			return fmt.Errorf("identity create: NODALYNC_PASSPHRASE must be set")
		}
		id, mnemonic, err := core.NewRandomIdentity()
		if err != nil {
			return fmt.Errorf("identity create: %w", err)
		}
		sealed, err := core.SealIdentity(id, pass)
		if err != nil {
			return fmt.Errorf("identity create: seal: %w", err)
		}
		if err := os.WriteFile(f.out, sealed, 0o600); err != nil {
			return fmt.Errorf("identity create: write: %w", err)
		}
		fmt.Printf("peer id:   %x\n", id.PeerID())
		fmt.Printf("mnemonic:  %s\n", mnemonic)
		fmt.Printf("keystore:  %s\n", f.out)
		return nil
	},
}

var identityImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Recover an identity from a BIP-39 mnemonic and seal it to a keystore file",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, _ := cmd.Flags().GetString("mnemonic")
		passphrase, _ := cmd.Flags().GetString("bip39-passphrase")
		out, _ := cmd.Flags().GetString("out")
		if mnemonic == "" || out == "" {
			return fmt.Errorf("identity import: --mnemonic and --out are required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), flagsKey, identityImportFlags{
			mnemonic: mnemonic, passphrase: passphrase, out: out,
		}))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Context().Value(flagsKey).(identityImportFlags)
		pass := os.Getenv("NODALYNC_PASSPHRASE")
		if pass == "" {
			return fmt.Errorf("identity import: NODALYNC_PASSPHRASE must be set")
		}
		id, err := core.IdentityFromMnemonic(f.mnemonic, f.passphrase)
		if err != nil {
			return fmt.Errorf("identity import: %w", err)
		}
		sealed, err := core.SealIdentity(id, pass)
		if err != nil {
			return fmt.Errorf("identity import: seal: %w", err)
		}
		if err := os.WriteFile(f.out, sealed, 0o600); err != nil {
			return fmt.Errorf("identity import: write: %w", err)
		}
		fmt.Printf("peer id:  %x\n", id.PeerID())
		fmt.Printf("keystore: %s\n", f.out)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:     "show",
	Short:   "Print this node's peer id",
	PreRunE: appInit,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(app.ID.PeerID().Hex())
		return nil
	},
}

func init() {
	identityCreateCmd.Flags().String("out", "", "keystore output path")
	identityImportCmd.Flags().String("mnemonic", "", "BIP-39 recovery mnemonic")
	identityImportCmd.Flags().String("bip39-passphrase", "", "optional BIP-39 passphrase")
	identityImportCmd.Flags().String("out", "", "keystore output path")

	IdentityCmd.AddCommand(identityCreateCmd, identityImportCmd, identityShowCmd)
}
