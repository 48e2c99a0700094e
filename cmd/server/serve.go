package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/rifthub/internal/adapters/http"
	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	rec := store.NewRecorder(st, 256, cfg.ChatArchive)
	// recorder writes must outlive the signal context so the final
	// session-ended events are flushed
	go rec.Run(context.WithoutCancel(ctx))
	defer rec.Close()

	policy, err := app.PolicyByName(cfg.BackpressurePolicy)
	if err != nil {
		return err
	}
	o := orch.New(app.NewRegistry(), policy, rec)

	// sockets outlive the signal so shutdown can tell viewers the broadcast ended
	pumpCtx, stopPumps := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPumps()

	r := router.SetupRouter(pumpCtx, cfg, o, st)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("RiftHub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if n := o.EvictAll(); n > 0 {
		log.Info().Int("sessions", n).Msg("ended live sessions")
	}
	stopPumps()
	waitDisconnected(shutdownCtx, o)
	log.Info().Msg("Server exited gracefully")
	return nil
}

// waitDisconnected gives the socket pumps time to flush and detach.
func waitDisconnected(ctx context.Context, o *orch.Orchestrator) {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for o.Registry.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			log.Warn().Int("connections", o.Registry.ConnectionCount()).Msg("sockets still open at exit")
			return
		case <-tick.C:
		}
	}
}
