package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/haiphandev/acadflow/db"
	"github.com/haiphandev/acadflow/internal/config"
	"github.com/haiphandev/acadflow/internal/logger"
	"github.com/haiphandev/acadflow/router"
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
	if config.App.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable (or config) is required")
	}

	pg, err := db.Connect(config.App.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()
	log.Info().Msg("connected to database")

	redisClient, err := db.ConnectRedis(config.App.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()
	log.Info().Msg("connected to Redis")

	r := router.NewGinRouter(pg, redisClient)

	addr := ":" + config.App.Port
	log.Info().Str("addr", addr).Msg("starting API server")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
