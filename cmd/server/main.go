package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/uppjke/izuchator-sub000/internal/adapters/http"
	wsignal "github.com/uppjke/izuchator-sub000/internal/adapters/signal"
	"github.com/uppjke/izuchator-sub000/internal/config"
	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/presence"
	"github.com/uppjke/izuchator-sub000/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	serverID := uuid.NewString()

	var store core.PresenceStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = presence.NewRedisStore(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("shared presence store: redis")
	} else {
		store = presence.NewMemoryStore()
		log.Info().Msg("shared presence store: in-memory (single process)")
	}

	registry := presence.NewRegistry(store, nil, serverID, cfg.PresenceTimeout, cfg.StoreTTL(), cfg.SweepInterval)
	gateway := session.NewGateway()
	limiter := wsignal.NewRateLimiter(cfg.SignalRateLimit, cfg.SignalRateWindow)
	ctl := wsignal.NewController(registry, gateway, limiter, cfg.ReadLimit, cfg.PingPeriod)
	registry.SetNotifier(ctl)

	go registry.Run(ctx)

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("server_id", serverID).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
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
