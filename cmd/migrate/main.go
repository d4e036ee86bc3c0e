package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/infrastructure/config"
	"github.com/feedbridge/backend/internal/infrastructure/logger"
	"github.com/feedbridge/backend/internal/infrastructure/persistence"
)

func main() {
	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := persistence.AutoMigrate(db.DB); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	log.Info("Schema migration complete",
		zap.String("database", cfg.Database.DBName),
		zap.String("host", cfg.Database.Host))
}
