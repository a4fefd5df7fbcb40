package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/autoflow"
	"github.com/partykit/quipguess/internal/config"
	"github.com/partykit/quipguess/internal/game"
	"github.com/partykit/quipguess/internal/gateway"
	"github.com/partykit/quipguess/internal/ratelimit"
	"github.com/partykit/quipguess/internal/roomguard"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	setupLogging()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	clock := clockwork.NewRealClock()

	store := game.NewStore(game.PhaseDurations{
		Responding: cfg.Game.RespondingDuration,
		Guessing:   cfg.Game.GuessingDuration,
		Results:    cfg.Game.ResultsDuration,
	}, clock)

	guard := roomguard.New(cfg.Dedup.RequestWindow, clock)

	limiter := ratelimit.New(ratelimit.Config{
		PerClientPerSec: cfg.RateLimit.PerClientPerSec,
		PerClientPerMin: cfg.RateLimit.PerClientPerMin,
		GlobalPerSec:    cfg.RateLimit.GlobalPerSec,
		BlockDuration:   cfg.RateLimit.BlockDuration,
		MaxEventQueue:   cfg.RateLimit.MaxEventQueue,
		TestMode:        cfg.RateLimit.TestMode,
	}, clock)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	engine := autoflow.New(store, manager, guard, autoflow.Config{
		CheckInterval:               cfg.Timer.CheckInterval,
		CountdownBroadcastInterval:  cfg.Timer.CountdownBroadcastInterval,
		WarningThreshold:            cfg.Timer.WarningThreshold,
		FinalWarningThreshold:       cfg.Timer.FinalWarningThreshold,
		RoomStatusBroadcastInterval: cfg.Timer.RoomStatusBroadcastInterval,
		InactiveRoomMaxAge:          cfg.Timer.InactiveRoomMaxAge,
		JoinTimeout:                 cfg.Timer.JoinTimeout,
		MinPlayers:                  cfg.Game.MinPlayers,
	}, clock)

	dispatcher := gateway.NewDispatcher(store, limiter, guard, engine, manager, gateway.DispatcherConfig{
		MinPlayers:    cfg.Game.MinPlayers,
		RetryAfterSec: int(cfg.RateLimit.BlockDuration / time.Second),
	})
	manager.SetDispatcher(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.Start(ctx)
	engine.Start()

	server := setupServer(cfg, store, manager, limiter)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	engine.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
