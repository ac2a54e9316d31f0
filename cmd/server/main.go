package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/meshcall/internal/adapters/http"
	sig "github.com/dkeye/meshcall/internal/adapters/signal"
	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/relay"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	logging.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)

	rooms := app.NewRoomRegistry()
	conns := app.NewConnections()
	r := relay.New(rooms, conns, app.SimplePolicy{})

	ctrl := sig.NewSignalWSController(r, sig.NewJoinLimiter(cfg.JoinRate, cfg.JoinBurst), sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait(),
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	engine, err := router.SetupRouter(ctx, cfg, r, ctrl)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up router")
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("meshcall relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		// Hijacked websockets are not tracked by Shutdown.
		conns.CancelAll()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	rooms.Close()
	log.Info().Msg("Server exited gracefully")
}
