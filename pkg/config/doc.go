// Package config loads subbill configuration from environment variables.
//
// Every setting has a default, so an empty environment starts a single-node
// service backed by a local SQLite database and an in-process lock.
//
// Server settings:
//
//	SUBBILL_HOST="0.0.0.0"
//	SUBBILL_PORT="8080"
//	SUBBILL_HEALTH_PORT="9090"
//	SUBBILL_WRITE_TIMEOUT="5m"
//	SUBBILL_RATE_LIMIT_ENABLED="true"
//	SUBBILL_RATE_LIMIT_REQUESTS="120"  # per SUBBILL_RATE_LIMIT_WINDOW
//
// Storage and ledger:
//
//	SUBBILL_STORAGE_DRIVER="sqlite"   # sqlite or postgres
//	SUBBILL_STORAGE_DSN="postgres://localhost/subbill?sslmode=disable"
//	SUBBILL_LEDGER_BACKEND="sql"      # sql or file
//	SUBBILL_LEDGER_DIR="./data/ledger"
//
// Generation lock:
//
//	SUBBILL_LOCK_BACKEND="redis"      # memory or redis
//	SUBBILL_REDIS_URL="redis://localhost:6379"
//	SUBBILL_LOCK_TTL="30m"
//
// Plans and billing rules:
//
//	SUBBILL_PLANS_FILE="plans.yaml"
//	SUBBILL_PLANS_WATCH="true"
//	SUBBILL_PRICE_BASIS="term"        # term or monthly
//
// Run archive and scheduler:
//
//	SUBBILL_ARCHIVE_ENABLED="true"
//	SUBBILL_S3_BUCKET="subbill-runs"
//	SUBBILL_GENERATE_SCHEDULE="0 2 25 * *"
//	SUBBILL_RENEW_SCHEDULE="15 0 * * *"
//
// Observability:
//
//	SUBBILL_LOG_LEVEL="info"
//	SUBBILL_OTEL_ENABLED="true"
//	SUBBILL_OTEL_ENDPOINT="localhost:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
