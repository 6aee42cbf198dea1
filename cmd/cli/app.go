package cli

// app.go – shared CLI wiring. Every sub-command lazily initializes the same
// set of node-scoped singletons (identity, content store, provenance graph,
// access controller, channel/distribution engines, transport)
// exactly once per process via a sync.Once-guarded PersistentPreRunE, the
// same bootstrap shape used across every command group in this tree.

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	core "nodalync/core"
	pkgconfig "nodalync/pkg/config"
)

var (
	appOnce sync.Once
	appErr  error
	app     *App
)

// App bundles every core engine a CLI command might touch. There is no
// Settle/SettlementBatcher field: it needs a concrete AnchorLedger, which
// Nodalync deliberately does not ship a concrete settlement chain — only a
// daemon wired against a real anchor chain can construct one.
type App struct {
	DataDir   string
	ID        *core.Identity
	Ledger    *core.Ledger
	Store     *core.ContentStore
	Cache     *core.RemoteCache
	Graph     *core.ProvenanceGraph
	Manifests *core.ManifestManager
	Access    *core.AccessController
	Chans     *core.ChannelEngine
	Dist      *core.DistributionEngine
	Query     *core.QueryPipeline
	Node      *core.Node
	Peers     *core.PeerManagement
	Disc      *core.DiscoveryAdapter
	Log       *logrus.Logger
}

// identityPath is where the CLI expects the encrypted identity keystore.
func identityPath(dataDir string) string {
	return filepath.Join(dataDir, "identity.json")
}

// appInit is the PersistentPreRunE every command tree attaches; it loads or
// creates an identity keystore and wires every engine against the configured
// data directory. Commands that need no identity (e.g. `identity create`)
// skip this via their own PreRunE.
func appInit(cmd *cobra.Command, _ []string) error {
	appOnce.Do(func() {
		_ = godotenv.Load()
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if dataDir == "" {
			dataDir = os.Getenv("NODALYNC_DATA_DIR")
		}
		if dataDir == "" {
			dataDir = "./data/nodalync"
		}
		pass := os.Getenv("NODALYNC_PASSPHRASE")

		log := logrus.StandardLogger()
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if l, err := logrus.ParseLevel(lvl); err == nil {
				log.SetLevel(l)
			}
		}

		id, err := loadOrCreateIdentity(identityPath(dataDir), pass)
		if err != nil {
			appErr = err
			return
		}

		led, err := core.NewLedger(core.LedgerConfig{
			WALPath:          filepath.Join(dataDir, "ledger.wal"),
			SnapshotPath:     filepath.Join(dataDir, "ledger.snap"),
			SnapshotInterval: 1000,
		})
		if err != nil {
			appErr = err
			return
		}

		netCfg := core.Config{ListenAddr: "/ip4/0.0.0.0/tcp/0"}
		if cfg, err := pkgconfig.LoadFromEnv(); err == nil && cfg.Network.ListenAddr != "" {
			netCfg = core.Config{
				ListenAddr:     cfg.Network.ListenAddr,
				BootstrapPeers: cfg.Network.BootstrapPeers,
				DiscoveryTag:   cfg.Network.DiscoveryTag,
			}
		}
		node, err := core.NewNode(netCfg, id.PeerID())
		if err != nil {
			appErr = err
			return
		}
		peers := core.NewPeerManagement(node)
		disc := core.NewDiscoveryAdapter(node, core.NodeID(id.PeerID().Hex()))

		store := core.NewContentStore(log)
		graph := core.NewProvenanceGraph()
		cacheMax := 256 << 20
		if cfg, err := pkgconfig.LoadFromEnv(); err == nil && cfg.Storage.CacheMaxMB > 0 {
			cacheMax = cfg.Storage.CacheMaxMB << 20
		}
		cache := core.NewRemoteCache(cacheMax)
		manifests := core.NewManifestManager(store, graph, cache, disc, nil)
		access := core.NewAccessController(store, 5, 20)

		var feeBP uint64 = core.DefaultSynthesisFeeBP
		if cfg, err := pkgconfig.LoadFromEnv(); err == nil && cfg.Economics.SynthesisFeeBP > 0 {
			feeBP = cfg.Economics.SynthesisFeeBP
		}
		dist := core.NewDistributionEngine(feeBP, nil)
		chans := core.NewChannelEngine(id.PeerID(), id, led, dist)
		query := core.NewQueryPipeline(store, access, chans, dist, cache, id, nil)

		app = &App{
			DataDir: dataDir, ID: id, Ledger: led, Store: store, Cache: cache, Graph: graph,
			Manifests: manifests, Access: access, Chans: chans, Dist: dist,
			Query: query, Node: node, Peers: peers, Disc: disc, Log: log,
		}
	})
	return appErr
}

// loadOrCreateIdentity opens the encrypted keystore at path, creating a
// fresh random identity and sealing it there if none exists yet.
func loadOrCreateIdentity(path, pass string) (*core.Identity, error) {
	if pass == "" {
		return nil, fmt.Errorf("cli: NODALYNC_PASSPHRASE must be set to unlock the identity keystore")
	}
	if _, err := os.Stat(path); err == nil {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return core.OpenIdentity(raw, pass)
	}
	id, mnemonic, err := core.NewRandomIdentity()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "nodalync: generated new identity %x, recovery mnemonic: %s\n", id.PeerID(), mnemonic)
	sealed, err := core.SealIdentity(id, pass)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, err
	}
	return id, nil
}

// RootCmd assembles the full Nodalync CLI tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{Use: "nodalync", Short: "Nodalync content-economy node CLI"}
	root.PersistentFlags().String("data-dir", "", "node data directory (default ./data/nodalync)")
	root.AddCommand(IdentityCmd, ContentCmd, AccessCmd, ChannelCmd, DistributionCmd, PeerCmd, ServeCmd)
	return root
}
