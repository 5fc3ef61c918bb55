package sections

import (
	"canvaskit-backend/common"
	"canvaskit-backend/db"
	"canvaskit-backend/graph"
	"canvaskit-backend/plans"
	"canvaskit-backend/services"
	"canvaskit-backend/storage"
)

// Dependencies holds all shared dependencies for handlers
type Dependencies struct {
	Config     *common.Config
	DB         *db.DB
	GraphStore *graph.Store
	Redis      *storage.RedisClient
	Registry   *plans.Registry
	StripeSvc  *services.StripeService
	GoogleSvc  *services.GoogleService
}

// NewDependencies creates a new Dependencies instance
func NewDependencies(
	cfg *common.Config,
	database *db.DB,
	graphStore *graph.Store,
	redis *storage.RedisClient,
	registry *plans.Registry,
	stripeSvc *services.StripeService,
	googleSvc *services.GoogleService,
) *Dependencies {
	return &Dependencies{
		Config:     cfg,
		DB:         database,
		GraphStore: graphStore,
		Redis:      redis,
		Registry:   registry,
		StripeSvc:  stripeSvc,
		GoogleSvc:  googleSvc,
	}
}
