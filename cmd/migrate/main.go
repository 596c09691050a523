package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/haiphandev/acadflow/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pg, err := db.Connect(dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "db/migrations"
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", migrationsDir).Msg("failed to read migrations directory")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("failed to read migration")
		}

		log.Info().Str("file", name).Msg("running migration")
		if _, err := pg.Exec(string(content)); err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("migration failed")
		}
	}

	log.Info().Int("count", len(files)).Msg("migrations applied successfully")
}
