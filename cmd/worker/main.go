package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haiphandev/acadflow/db"
	"github.com/haiphandev/acadflow/internal/config"
	"github.com/haiphandev/acadflow/internal/logger"
	"github.com/haiphandev/acadflow/workers"
)

func main() {
	configPath := os.Getenv("ACADFLOW_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(config.App.LogLevel)

	if config.App.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := db.Connect(config.App.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()
	log.Info().Msg("connected to database")

	interval, err := time.ParseDuration(config.App.SweepInterval)
	if err != nil {
		log.Warn().Str("sweep_interval", config.App.SweepInterval).Msg("invalid sweep interval, using default")
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := workers.NewInviteSweeper(pg, interval)
	go sweeper.Start(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Info().Msg("workers started")
	<-c

	log.Info().Msg("shutting down workers")
	cancel()
}
