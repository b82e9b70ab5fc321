package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httphandler "crmhub/handler/http"
	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/log"
	"crmhub/src/infrastructure/token"
	"crmhub/src/storage/minioctrl"
	"crmhub/src/storage/postgres"
	"crmhub/src/storage/postgres/contactctrl"
	"crmhub/src/storage/postgres/leadctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CRM API server",
	Long:  `The serve command starts an HTTP server exposing the record CRUD APIs and the bulk upload engine`,
	Run:   RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	settingDefaultConfig()
}

func RunServer(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize credential manager. OAuth mode rotates the database
	// password through the token endpoint; otherwise the static password
	// from configuration is used.
	creds := newCredentialManager()
	if viper.GetBool("auth.use_oauth") {
		go creds.RunRefresher(ctx)
	}

	// Initialize the session factory and the long-lived CRUD session
	factory := postgres.NewFactory(postgres.Config{
		Host:     viper.GetString("postgres.host"),
		Port:     viper.GetInt("postgres.port"),
		User:     viper.GetString("postgres.user"),
		Database: viper.GetString("postgres.db"),
		Schema:   viper.GetString("postgres.schema"),
		SSLMode:  viper.GetString("postgres.sslmode"),
	}, creds)

	db, err := factory.Open(ctx)
	if err != nil {
		log.Error(err, "Failed to connect to database")
		return
	}

	leadService, err := leadctrl.NewLeadService(db)
	if err != nil {
		log.Error(err, "Failed to create lead service")
		return
	}

	contactService, err := contactctrl.NewContactService(db)
	if err != nil {
		log.Error(err, "Failed to create contact service")
		return
	}

	// Initialize task registry and start the eviction sweeper
	registry := ingest.NewRegistry(
		viper.GetDuration("ingest.retention"),
		viper.GetDuration("ingest.sweep_interval"),
	)
	go registry.RunSweeper(ctx)

	// Initialize the in-process event bus and the audit subscriber
	wmLogger := watermill.NewStdLogger(false, false)
	bus := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	defer bus.Close()

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		log.Error(err, "Failed to create event router")
		return
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler(
		"task_audit",
		ingest.TopicTaskEvents,
		bus,
		func(msg *message.Message) error {
			var ev ingest.TaskEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			log.Info("task event",
				"task_id", ev.TaskID,
				"event", ev.Event,
				"processed", ev.Processed,
				"total", ev.Total,
				"success_count", ev.SuccessCount,
				"failed_count", ev.FailedCount,
				"error", ev.Error,
			)
			return nil
		},
	)
	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Event router stopped")
		}
	}()

	events := ingest.NewEvents(bus)

	// Initialize the ingestion worker pool
	pool := ingest.NewPool(
		viper.GetInt("ingest.workers"),
		viper.GetInt("ingest.queue_depth"),
		viper.GetDuration("ingest.job_timeout"),
		registry,
		events,
	)
	pool.Start(ctx)

	// Initialize the upload archive if an object store is configured
	var archive *minioctrl.UploadStore
	if endpoint := viper.GetString("minio.endpoint"); endpoint != "" {
		archive, err = minioctrl.NewUploadStore(
			endpoint,
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetString("minio.upload_bucket"),
			viper.GetBool("minio.use_ssl"),
		)
		if err != nil {
			log.Error(err, "Failed to initialize upload archive, continuing without it")
			archive = nil
		} else if err := archive.EnsureBucketExists(ctx); err != nil {
			log.Error(err, "Failed to ensure upload bucket, continuing without archive")
			archive = nil
		}
	}

	// Initialize HTTP handler
	handler := httphandler.NewHandler(httphandler.Options{
		Leads:          leadService,
		Contacts:       contactService,
		Registry:       registry,
		Pool:           pool,
		Events:         events,
		Credentials:    creds,
		SessionFactory: factory,
		Archive:        archive,
		AsyncConfig: ingest.Config{
			ChunkSize:         viper.GetInt("ingest.chunk_size"),
			BatchSize:         viper.GetInt("ingest.batch_size"),
			MaxInsertAttempts: viper.GetUint("ingest.max_insert_attempts"),
		},
		SyncConfig: ingest.Config{
			ChunkSize:         viper.GetInt("ingest.sync_chunk_size"),
			BatchSize:         viper.GetInt("ingest.sync_batch_size"),
			MaxInsertAttempts: viper.GetUint("ingest.max_insert_attempts"),
		},
		AsyncThreshold: viper.GetInt("ingest.async_threshold"),
	})

	// Setup gin router
	r := gin.Default()

	// Register routes
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	// Stop accepting requests first, then drain the worker pool so
	// in-flight uploads reach a terminal state before the process exits.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}
	pool.Shutdown()
	cancel()

	if err := factory.Close(db); err != nil {
		log.Error(err, "Error closing database connection")
	}

	log.Info("Server exited")
}

func newCredentialManager() *token.Manager {
	fallback := viper.GetString("auth.fallback_password")
	if fallback == "" {
		fallback = viper.GetString("postgres.password")
	}

	var fetcher token.Fetcher
	if viper.GetBool("auth.use_oauth") {
		fetcher = token.NewOAuthFetcher(
			viper.GetString("auth.token_url"),
			viper.GetString("auth.client_id"),
			viper.GetString("auth.client_secret"),
		)
	} else {
		fetcher = token.StaticFetcher{Password: viper.GetString("postgres.password")}
	}

	return token.NewManager(fetcher, viper.GetDuration("auth.refresh_interval"), fallback)
}
