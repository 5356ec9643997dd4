package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/client"
	"github.com/uppjke/izuchator-sub000/internal/config"
	"github.com/uppjke/izuchator-sub000/internal/domain"
	"github.com/uppjke/izuchator-sub000/internal/media"
	"github.com/uppjke/izuchator-sub000/internal/peer"
	"github.com/uppjke/izuchator-sub000/internal/reconnect"
)

// agent is a headless session participant: it joins presence and a session,
// heartbeats, and runs the mesh negotiation engine against its peers.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var (
		url       = flag.String("url", "ws://localhost:8080/api/ws/signal", "signaling server WS endpoint")
		user      = flag.String("user", "", "user id (random if empty)")
		name      = flag.String("name", "agent", "display name")
		sessionID = flag.String("session", "", "collaborative session to join")
		withMedia = flag.Bool("media", true, "publish placeholder tracks")
	)
	flag.Parse()

	if *user == "" {
		*user = uuid.NewString()
	}

	backoff := reconnect.NewController(cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMultiplier)
	cl := client.New(client.Config{
		URL:               *url,
		UserID:            domain.UserID(*user),
		Username:          *name,
		SessionID:         domain.SessionID(*sessionID),
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, backoff)

	factory := peer.NewPionFactory(peer.WebRTCConfig(cfg.ICEServers))
	mgr := peer.NewManager(domain.UserID(*user), cl, factory)
	cl.AttachManager(mgr)
	go mgr.Run(ctx)

	cl.OnPresence = func(p domain.PresenceUpdatePayload) {
		log.Debug().Int("online", len(p.OnlineUsers)).Msg("presence update")
	}

	if *withMedia {
		provider := media.NewStaticProvider()
		tracks, err := provider.Enable()
		if err != nil {
			log.Error().Err(err).Msg("enable media")
		} else {
			mgr.EnableMedia(tracks)
		}
	}

	log.Info().Str("user", *user).Str("session", *sessionID).Msg("agent started")
	cl.Run(ctx)
	log.Info().Msg("agent exited")
}
