package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/undercutlive/undercut/go/internal/auction"
	"github.com/undercutlive/undercut/go/internal/auction/gateway"
	"github.com/undercutlive/undercut/go/internal/auction/pubsub"
	"github.com/undercutlive/undercut/go/internal/auction/scheduler"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	registry := auction.NewRegistry(config.Auction)

	publisher, err := pubsub.NewNATSPublisher(pubsub.PublisherConfig{
		URL:           config.NATS.URL,
		SubjectPrefix: config.NATS.SubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect event publisher")
	}
	defer publisher.Close()

	router := auction.NewRouter(registry, publisher, clock)

	connManager := gateway.NewConnectionManager(router, gateway.DefaultConnectionConfig())
	go connManager.Start(ctx)

	consumer, err := gateway.NewEventConsumer(connManager, gateway.ConsumerConfig{
		URL:           config.NATS.URL,
		SubjectPrefix: config.NATS.SubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect event consumer")
	}
	defer consumer.Stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()

	sched := scheduler.New(registry, publisher, clock, config.schedulerConfig())
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	server := setupServer(config.Server.Port, registry, gateway.NewWebSocketHandler(connManager))
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}
