package cli

// serve.go – the node's long-running daemon mode: starts the libp2p
// transport listener and a read-only HTTP status surface for operators.
// The surface never mutates protocol state, so it cannot be used to
// bypass the access controller.

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveHandler(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	runID := uuid.NewString()

	go app.Node.ListenAndServe()
	if err := app.Disc.Listen(cmd.Context()); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"peer_id":  app.ID.PeerID().Hex(),
			"run_id":   runID,
			"channels": channelCount(),
			"time":     time.Now().UTC(),
		})
	})
	r.Get("/peers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, app.Peers.Peers())
	})
	r.Get("/channels", func(w http.ResponseWriter, req *http.Request) {
		chans, err := app.Chans.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, chans)
	})
	srv := &http.Server{Addr: addr, Handler: r}

	app.Log.Infof("nodalync node %s listening, status surface on %s", app.ID.PeerID().Hex(), addr)
	go func() {
		<-cmd.Context().Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func channelCount() int {
	chans, err := app.Chans.List()
	if err != nil {
		return 0
	}
	return len(chans)
}

// ServeCmd runs the node's transport listener plus its HTTP status/metrics
// surface until interrupted.
var ServeCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Run the node's transport listener and HTTP status/metrics surface",
	PersistentPreRunE: appInit,
	RunE:              serveHandler,
}

func init() {
	ServeCmd.Flags().String("metrics-addr", ":9477", "address for the /healthz, /peers, /channels and /metrics HTTP surface")
}
