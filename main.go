package main

import (
	"log/slog"
	"os"
	"strings"

	"canvaskit-backend/common"
	"canvaskit-backend/db"
	"canvaskit-backend/graph"
	"canvaskit-backend/plans"
	"canvaskit-backend/sections"
	"canvaskit-backend/sections/auth"
	"canvaskit-backend/sections/designs"
	"canvaskit-backend/sections/payment"
	"canvaskit-backend/sections/profile"
	"canvaskit-backend/sections/users"
	"canvaskit-backend/services"
	"canvaskit-backend/storage"
	"canvaskit-backend/webhooks"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func main() {
	// Set up structured logging with debug level
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// Load environment variables
	if _, err := os.Stat(common.PRIVATE_CREDENTIALS_DOTENV); err == nil {
		if err := godotenv.Load(common.PRIVATE_CREDENTIALS_DOTENV); err != nil {
			slog.Error("Failed to load .env.private file", "error", err)
			os.Exit(1)
		}
	}

	cfgDir := getEnv("CONFIG_DIR", common.DEFAULT_CONFIG_DIR)

	cfg, err := common.LoadConfig(cfgDir)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Plan registry
	registry, err := plans.Load(cfgDir, cfg.PlansFile)
	if err != nil {
		slog.Error("Failed to load plan registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Plan registry loaded", "plans", len(registry.Plans()))

	// Relational database
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Graph database
	graphDB, err := graph.Connect(cfg.GraphDatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to graph database", "error", err)
		os.Exit(1)
	}
	if err := graph.Migrate(graphDB); err != nil {
		slog.Error("Failed to migrate graph database", "error", err)
		os.Exit(1)
	}
	graphStore := graph.NewStore(graphDB)

	// Redis for refresh tokens
	redisClient, err := storage.NewRedisClient(
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, cfg.RefreshTokenTTLDays)
	if err != nil {
		slog.Error("Failed to initialize Redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Services
	stripeSvc := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PublicURL)
	googleSvc := services.NewGoogleService()

	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTLHours)
	if err != nil {
		slog.Error("Failed to initialize JWT manager", "error", err)
		os.Exit(1)
	}

	deps := sections.NewDependencies(cfg, database, graphStore, redisClient, registry, stripeSvc, googleSvc)
	processor := webhooks.NewProcessor(database.DB, registry)

	// Initialize Gin router
	r := gin.Default()

	env := getEnv("APP_ENV", "production")
	trustedProxies := getEnv("TRUSTED_PROXIES", "")
	corsOrigins := getEnv("CORS_ORIGINS", "")

	if env != "development" && trustedProxies == "" {
		slog.Error("In production mode, TRUSTED_PROXIES must be set")
		os.Exit(1)
	} else if trustedProxies != "" {
		slog.Info("Setting trusted proxies", "proxies", trustedProxies)
		proxies := strings.Split(trustedProxies, ",")
		if err := r.SetTrustedProxies(proxies); err != nil {
			slog.Error("Failed to set trusted proxies", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No trusted proxies set (TRUSTED_PROXIES not defined)")
	}

	// Configure CORS
	corsConfig := cors.DefaultConfig()

	if env != "development" && corsOrigins == "" {
		slog.Error("In production mode, CORS_ORIGINS must be set")
		os.Exit(1)
	} else if corsOrigins != "" {
		slog.Info("CORS origins set from CORS_ORIGINS")
		corsConfig.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		slog.Warn("Using default origin function in non-production mode (CORS_ORIGINS not defined)")
		corsConfig.AllowOriginFunc = func(origin string) bool {
			if origin == "http://localhost" || strings.HasPrefix(origin, "http://localhost:") {
				return true
			}
			return false
		}
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// API routes
	users.RegisterRoutes(r, deps, jwtManager)
	profile.RegisterRoutes(r, deps, jwtManager)
	designs.RegisterRoutes(r, deps, jwtManager)
	payment.RegisterRoutes(r, deps, jwtManager, stripeSvc)

	// Webhook callbacks (no authentication, verified via Stripe signature)
	callbacks := r.Group("/callbacks")
	webhooks.RegisterRoutes(callbacks, stripeSvc, processor)

	slog.Info("Server starting", "addr", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
