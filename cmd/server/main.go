package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkflow/internal/config"
	"github.com/maneesh/chunkflow/internal/handlers"
	"github.com/maneesh/chunkflow/internal/session"
	"github.com/maneesh/chunkflow/internal/storage"
	"github.com/maneesh/chunkflow/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	log.Println("Starting chunkflow service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s, Storage: %s", cfg.ServiceName, cfg.ServicePort, cfg.StorageBackend)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Initialize chunk and artifact storage
	var chunkStore storage.ChunkStore
	var artifactStore storage.ArtifactStore
	switch cfg.StorageBackend {
	case "minio":
		log.Println("Connecting to MinIO...")
		minioStore, err := storage.NewMinioStore(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MinIO store: %v", err)
		}
		chunkStore, artifactStore = minioStore, minioStore
		log.Println("MinIO store initialized")
	default:
		diskStore, err := storage.NewDiskStore(cfg.StagingDir, cfg.ArtifactDir)
		if err != nil {
			log.Fatalf("Failed to initialize disk store: %v", err)
		}
		chunkStore, artifactStore = diskStore, diskStore
		log.Printf("Disk store initialized (staging: %s, artifacts: %s)", cfg.StagingDir, cfg.ArtifactDir)
	}

	// Initialize MySQL catalog
	log.Println("Connecting to MySQL...")
	catalog, err := storage.NewMySQLCatalog(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to initialize MySQL catalog: %v", err)
	}
	defer catalog.Close()
	log.Println("MySQL catalog initialized")

	// Initialize Redis client
	log.Println("Connecting to Redis...")
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to initialize Redis client: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis client initialized")

	// Initialize session registry with janitor
	registry := session.NewRegistry(chunkStore, artifactStore, cfg.GetSessionTTL(),
		session.WithCatalog(catalog),
		session.WithMirror(redisClient),
	)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go registry.RunJanitor(janitorCtx, cfg.GetSweepInterval())
	log.Printf("Session janitor running (TTL: %s, interval: %s)", cfg.GetSessionTTL(), cfg.GetSweepInterval())

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(registry)
	statusHandler := handlers.NewStatusHandler(registry)
	artifactHandler := handlers.NewArtifactHandler(catalog, redisClient)

	// Setup HTTP router
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Upload operations with tracing
	router.Handle("/upload", otelhttp.NewHandler(uploadHandler, "POST /upload")).Methods("POST")
	router.Handle("/status/{upload_id}", otelhttp.NewHandler(statusHandler, "GET /status/{upload_id}")).Methods("GET")
	router.Handle("/artifacts/{artifact_id}", otelhttp.NewHandler(artifactHandler, "GET /artifacts/{artifact_id}")).Methods("GET")

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
