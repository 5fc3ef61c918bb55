package db

import (
	"fmt"
	"log/slog"
	"os"

	"canvaskit-backend/sections/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the relational database handle
type DB struct {
	*gorm.DB
}

// Connect establishes a connection to the PostgreSQL database
func Connect(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	gormConfig := &gorm.Config{}
	if os.Getenv("DB_DEBUG") == "true" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	gdb, err := gorm.Open(postgres.Open(databaseURL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("Database connection established")
	return &DB{DB: gdb}, nil
}

// Migrate runs auto-migration for all relational models
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Design{},
		&models.DesignImage{},
		&models.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	slog.Info("Models migrated")
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
