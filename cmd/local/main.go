package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"newsclip-backend/internal/api"
	"newsclip-backend/internal/core"
	"newsclip-backend/internal/database"
	"newsclip-backend/internal/messaging"
	"newsclip-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// The local binary runs the full pipeline in a single process: sqlite for
// state, the filesystem as the object store and an in-memory queue instead
// of RabbitMQ.

type Config struct {
	Root        string `env:"ROOT" envDefault:"./newsclip"`
	Port        int    `env:"PORT" envDefault:"3001"`
	DataBucket  string `env:"DATA_BUCKET_NAME" envDefault:"newsclip-datasets"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"4"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "newsclip.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue republishes tasks that were queued when the process last
// exited, so restarts pick up where they left off.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var ingestTasks []database.IngestTask
	if err := db.Where("status = ?", database.JobQueued).Find(&ingestTasks).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	var preprocessTasks []database.PreprocessTask
	if err := db.Where("status = ?", database.JobQueued).Find(&preprocessTasks).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, task := range ingestTasks {
		if err := queue.PublishIngestTask(context.Background(), messaging.IngestPayload{
			BuildId: task.BuildId,
		}); err != nil {
			log.Fatalf("Failed to publish ingest task: %v", err)
		}
	}

	for _, task := range preprocessTasks {
		if err := queue.PublishPreprocessTask(context.Background(), messaging.PreprocessPayload{
			BuildId: task.BuildId,
			TaskId:  task.TaskId,
		}); err != nil {
			log.Fatalf("Failed to publish preprocess task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int, dataBucket string) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, store, queue, dataBucket)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	queue := createQueue(db)

	processor := core.NewTaskProcessor(db, store, queue, queue, cfg.DataBucket, cfg.Concurrency)
	go processor.Start()

	server := createServer(db, store, queue, cfg.Port, cfg.DataBucket)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Backend listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
