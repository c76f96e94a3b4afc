package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"videodrive/internal/config"
	"videodrive/internal/handler"
	"videodrive/internal/queue"
	"videodrive/internal/repository"
	"videodrive/internal/service"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
	"videodrive/internal/worker"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxAttempts).Msg("failed to connect to database")
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", cfg.Database.MigrateURL())
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to create migrate instance")
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("found dirty database state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// newStore собирает бэкенд леджера по конфигурации.
func newStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := connectWithRetry(cfg.Database.GetDSN(), 5, time.Second*5)
		if err != nil {
			return nil, nil, err
		}

		if err := runMigrations(cfg); err != nil {
			db.Close()
			return nil, nil, err
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		return store.NewPostgresStore(db), func() { db.Close() }, nil

	case "dynamodb":
		dynamoConfig, err := store.NewDynamoConfig(".dynamo.env")
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewDynamoStore(dynamoConfig)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil

	case "memory":
		return store.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func newQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Storage.QueueBackend {
	case "sqs":
		queueConfig, err := queue.NewConfig(".sqs.env")
		if err != nil {
			return nil, err
		}
		return queue.NewSQSQueue(queueConfig)
	case "memory":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Storage.QueueBackend)
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Загружаем конфигурации
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Бэкенд леджера
	ledger, closeStore, err := newStore(appConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create store")
	}
	defer closeStore()

	// Инициализация S3 клиента
	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load S3 config")
	}

	s3Client, err := s3.NewClient(s3Config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create S3 client")
	}

	// Очередь удалений
	deleteQueue, err := newQueue(appConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delete queue")
	}

	// Инициализация репозиториев
	quotaRepo := repository.NewQuotaRepository(ledger)
	reservationRepo := repository.NewReservationRepository(ledger)
	hashRepo := repository.NewHashRepository(ledger)
	videoRepo := repository.NewVideoRepository(ledger)

	// Инициализация сервисов
	uploadService := service.NewUploadService(
		ledger,
		s3Client,
		quotaRepo,
		reservationRepo,
		hashRepo,
		videoRepo,
		s3Config.OriginalBucket,
		appConfig.Server.PartURLTTL,
	)
	videoService := service.NewVideoService(videoRepo, deleteQueue)
	quotaService := service.NewStorageQuotaService(quotaRepo)
	cleanupService := service.NewCleanupService(
		ledger,
		s3Client,
		videoRepo,
		reservationRepo,
		quotaRepo,
		s3Config.OriginalBucket,
		s3Config.ThumbnailBucket,
		appConfig.Cleanup.Prefix,
		appConfig.Cleanup.PageSize,
		appConfig.Cleanup.MaxKeys,
	)
	deleteWorker := worker.NewDeleteWorker(
		deleteQueue,
		ledger,
		s3Client,
		videoRepo,
		hashRepo,
		quotaRepo,
		s3Config.ThumbnailBucket,
	)

	// Инициализация хендлеров
	uploadHandler := handler.NewUploadHandler(uploadService)
	videoHandler := handler.NewVideoHandler(videoService)
	quotaHandler := handler.NewStorageQuotaHandler(quotaService)

	// Настройка HTTP роутера
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// HTTP маршруты
	r.Route("/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.Get("/", videoHandler.ListVideos)
			r.Post("/delete", videoHandler.DeleteVideos)
			r.Put("/{id}/location", videoHandler.UpdateLocation)
			r.Post("/{id}/enrichment", videoHandler.ApplyEnrichment)

			r.Route("/uploads", func(r chi.Router) {
				r.Post("/", uploadHandler.InitUpload)
				r.Post("/part-url", uploadHandler.GetPartURL)
				r.Post("/complete", uploadHandler.CompleteUpload)
				r.Post("/abort", uploadHandler.AbortUpload)
				r.Post("/finalize", uploadHandler.FinalizeUpload)
			})
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", quotaHandler.GetQuotaInfo)
			r.Put("/limit", quotaHandler.UpdateQuotaLimit)
		})
	})

	// Создаем HTTP сервер
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	// Запускаем воркер удалений
	go deleteWorker.Run(workerCtx)

	// Запускаем HTTP сервер
	go func() {
		log.Info().Str("port", appConfig.Server.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	// Запускаем плановую выверку
	cleanupTicker := time.NewTicker(appConfig.Cleanup.Interval)
	go func() {
		for {
			select {
			case <-cleanupTicker.C:
				stats, err := cleanupService.RunCleanup(context.Background())
				if err != nil {
					log.Error().Err(err).Msg("cleanup run failed")
					continue
				}
				log.Info().
					Int("scanned", stats.Scanned).
					Int("deleted", stats.Deleted).
					Int("released", stats.Released).
					Bool("truncated", stats.Truncated).
					Msg("cleanup run finished")
			case <-workerCtx.Done():
				cleanupTicker.Stop()
				return
			}
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Info().Msg("shutting down server")

	cancelWorker()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
