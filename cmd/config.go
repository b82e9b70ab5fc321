package cmd

import (
	"time"

	"github.com/spf13/viper"
)

func settingDefaultConfig() {
	// Enable automatic environment variable binding
	viper.AutomaticEnv()

	// Map environment variables to Viper keys for PostgreSQL
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.db", "POSTGRES_DB")
	viper.BindEnv("postgres.schema", "POSTGRES_SCHEMA")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")

	// Map environment variables for the OAuth credential flow
	viper.BindEnv("auth.use_oauth", "AUTH_USE_OAUTH")
	viper.BindEnv("auth.token_url", "AUTH_TOKEN_URL")
	viper.BindEnv("auth.client_id", "AUTH_CLIENT_ID")
	viper.BindEnv("auth.client_secret", "AUTH_CLIENT_SECRET")
	viper.BindEnv("auth.fallback_password", "AUTH_FALLBACK_PASSWORD")
	viper.BindEnv("auth.refresh_interval", "AUTH_REFRESH_INTERVAL")

	// Map environment variables for MinIO and the server
	viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("minio.upload_bucket", "MINIO_UPLOAD_BUCKET")
	viper.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Map environment variables for the ingestion engine
	viper.BindEnv("ingest.chunk_size", "INGEST_CHUNK_SIZE")
	viper.BindEnv("ingest.batch_size", "INGEST_BATCH_SIZE")
	viper.BindEnv("ingest.workers", "INGEST_WORKERS")
	viper.BindEnv("ingest.job_timeout", "INGEST_JOB_TIMEOUT")

	// Set default values for PostgreSQL
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.db", "crmhub")
	viper.SetDefault("postgres.schema", "")
	viper.SetDefault("postgres.sslmode", "")

	// Set default values for the credential flow
	viper.SetDefault("auth.use_oauth", false)
	viper.SetDefault("auth.refresh_interval", 15*time.Minute)

	// Set default values for MinIO and the server
	viper.SetDefault("minio.endpoint", "")
	viper.SetDefault("minio.access_key", "minioadmin")
	viper.SetDefault("minio.secret_key", "minioadmin")
	viper.SetDefault("minio.upload_bucket", "uploads")
	viper.SetDefault("minio.use_ssl", false)
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.shutdown_timeout", "5s")

	// Set default values for the ingestion engine. Chunk/batch sizes are
	// tunables: bigger means more throughput, smaller means finer progress
	// and a smaller blast radius per failed batch.
	viper.SetDefault("ingest.chunk_size", 5000)
	viper.SetDefault("ingest.batch_size", 1000)
	viper.SetDefault("ingest.sync_chunk_size", 50000)
	viper.SetDefault("ingest.sync_batch_size", 10000)
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.queue_depth", 64)
	viper.SetDefault("ingest.async_threshold", 5000)
	viper.SetDefault("ingest.retention", time.Hour)
	viper.SetDefault("ingest.sweep_interval", 5*time.Minute)
	viper.SetDefault("ingest.job_timeout", time.Duration(0))
	viper.SetDefault("ingest.max_insert_attempts", 3)
}
