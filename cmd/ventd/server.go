package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ventcore/internal/store"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the UI state WebSocket, a JSON snapshot at /state, Prometheus
// metrics and a liveness probe.
// ============================================================================

type httpDeps struct {
	UI       UIConfig
	Metrics  MetricsConfig
	Gatherer prometheus.Gatherer // nil disables /metrics
	State    *Server
	Events   chan<- store.Event

	SnapshotTimeout time.Duration
}

// newHTTPMux registers every endpoint of the daemon.
func newHTTPMux(d httpDeps, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	if d.State != nil {
		d.State.Register(mux, d.UI.StatePath)
	}

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := requestSnapshot(r.Context(), d.Events, d.SnapshotTimeout)
		if err != nil {
			logger.Warn("state snapshot request failed", "error", err)
			http.Error(w, "state unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Debug("state response write failed", "error", err)
		}
	})

	if d.Metrics.Enabled && d.Gatherer != nil {
		mux.Handle(d.Metrics.Path, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("http server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
