package graph

import (
	"fmt"
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect establishes a connection to the graph database. The graph store
// runs on its own connection so canvas traffic never contends with the
// relational store.
func Connect(databaseURL string) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("GRAPH_DATABASE_URL environment variable is required")
	}

	gormConfig := &gorm.Config{}
	if os.Getenv("DB_DEBUG") == "true" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	gdb, err := gorm.Open(postgres.Open(databaseURL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to graph database: %w", err)
	}

	slog.Info("Graph database connection established")
	return gdb, nil
}

// Migrate runs auto-migration for the graph records
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&GraphNode{}, &GraphEdge{}, &NodeLink{}); err != nil {
		return fmt.Errorf("failed to migrate graph models: %w", err)
	}
	slog.Info("Graph models migrated")
	return nil
}
