package common

const (
	PRIVATE_CREDENTIALS_DOTENV = ".env.private"
	DEFAULT_CONFIG_DIR         = ".config/"
	DEFAULT_CONFIG_FILE        = "config.json"
	DEFAULT_PLANS_FILE         = "plans.json"

	DEFAULT_LISTEN_ADDR    = ":4000"
	DEFAULT_PUBLIC_URL     = "http://localhost:3000"
	DEFAULT_REDIS_ADDR     = "localhost:6379"
	DEFAULT_REDIS_PASSWORD = ""
	DEFAULT_REDIS_PREFIX   = "canvaskit:"

	DEFAULT_JWT_ISSUER = "canvaskit-backend"

	DEFAULT_ACCESS_TOKEN_TTL_HOURS = 24
	DEFAULT_REFRESH_TOKEN_TTL_DAYS = 30
)
