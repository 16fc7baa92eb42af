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
	"github.com/spf13/pflag"

	router "github.com/nakkag/webrtc-mesh/internal/adapters/http"
	sig "github.com/nakkag/webrtc-mesh/internal/adapters/signal"
	"github.com/nakkag/webrtc-mesh/internal/app"
	"github.com/nakkag/webrtc-mesh/internal/config"
	"github.com/nakkag/webrtc-mesh/internal/logging"
)

func main() {
	configPath := pflag.String("config", "", "path to config file")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config loading can report.
	logging.Setup("info", true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.Mode == "debug")

	reg := app.NewRegistry()
	rt := app.NewRouter(reg, app.SimplePolicy{})
	rt.Gate = sig.NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinWindow)

	r := router.SetupRouter(ctx, cfg, rt)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled()).Msg("mesh signaling server started")
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
