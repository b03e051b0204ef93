// Serve command: runs the sync daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldsync/fieldsync/internal/backend"
	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/server"
	"github.com/fieldsync/fieldsync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline sync daemon",
	Long: `Serve opens the durable mutation queue for the configured session and
runs the reconciliation engine: queued writes are replayed against the
backend whenever connectivity is available. Local UI clients talk to the
daemon over HTTP and websocket.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.BackendBaseURL == "" {
		return fmt.Errorf("backend.base_url is required to serve")
	}

	st, err := store.Open(cfg.DataDir, cfg.SessionKey, cfg.RetryPolicy)
	if err != nil {
		return err
	}
	defer st.Close()

	// Start offline; the prober or the first probe flips us online.
	monitor := connectivity.NewMonitor(false)

	var adapterOpts []backend.Option
	if cfg.BackendToken != "" {
		adapterOpts = append(adapterOpts, backend.WithHeader("Authorization", "Bearer "+cfg.BackendToken))
	}
	adapter := backend.NewRESTAdapter(cfg.BackendBaseURL, adapterOpts...)

	hub := server.NewHub()
	eng := engine.New(st, monitor, adapter, hub, engine.Config{
		RetryInterval: cfg.RetryInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	defer eng.Stop()

	probeURL := cfg.ProbeURL
	if probeURL == "" {
		probeURL = cfg.BackendBaseURL
	}
	prober := connectivity.NewProber(monitor, probeURL, cfg.ProbeInterval)
	prober.Start(ctx)
	defer prober.Stop()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(eng, monitor, hub).Router(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logging.Info("FieldSync daemon listening", logging.Fields{
		"addr":    cfg.ListenAddr,
		"session": cfg.SessionKey,
		"backend": cfg.BackendBaseURL,
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
