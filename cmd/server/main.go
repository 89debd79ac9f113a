package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bookshelf/api/internal/cache"
	"github.com/bookshelf/api/internal/client"
	"github.com/bookshelf/api/internal/config"
	"github.com/bookshelf/api/internal/handler"
	"github.com/bookshelf/api/internal/middleware"
	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/pdf"
	"github.com/bookshelf/api/internal/service"
	"github.com/bookshelf/api/internal/speech"
	"github.com/bookshelf/api/internal/store"
	ws "github.com/bookshelf/api/internal/websocket"
	"github.com/bookshelf/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, keeping books in memory: %v", err)
		redisAvailable = false
	}

	var bookStore store.BookStore = store.NewMemoryBookStore()
	if redisAvailable {
		bookStore = store.NewRedisBookStore(redisClient)
	}

	// Initialize external clients
	backend := newSpeechBackend(cfg)
	audioStore, err := newAudioStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize audio storage: %v", err)
	}

	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize services
	extractor := pdf.NewExtractor()
	bookService, err := service.NewBookService(bookStore, extractor, cfg.Storage.PDFDir)
	if err != nil {
		log.Fatalf("Failed to initialize book service: %v", err)
	}

	synth := speech.NewSynthesizer(backend, speech.Options{
		MaxChars:          cfg.TTS.MaxChars,
		Timeout:           cfg.TTS.Timeout,
		MaxRetries:        cfg.TTS.MaxRetries,
		RequestsPerMinute: cfg.TTS.RequestsPerMinute,
	})
	narrationService := service.NewNarrationService(bookService, cache.NewAudioCache(audioStore), extractor, synth)
	batchService := service.NewBatchService(bookService, narrationService, hub)

	bookService.OnDelete(batchService.Stop)
	bookService.OnDelete(narrationService.DeleteBookAudio)

	// Initialize Asynq client for page prefetch
	var asynqClient *asynq.Client
	prefetchEnabled := cfg.Prefetch.Enabled && redisAvailable
	if prefetchEnabled {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		narrationService.WithPrefetch(service.NewAsynqPrefetcher(asynqClient), cfg.Prefetch.Pages)
	}

	// Initialize handlers
	bookHandler := handler.NewBookHandler(bookService, validate)
	audioHandler := handler.NewAudioHandler(bookService, narrationService, batchService)

	// Initialize middleware
	rateLimiter := middleware.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.CleanupInterval)
	var quotaLimiter *middleware.QuotaLimiter
	if redisAvailable {
		quotaLimiter = middleware.NewQuotaLimiter(redisClient)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept",
		ExposeHeaders: "Retry-After,X-RateLimit-Limit,X-RateLimit-Remaining,X-Text-Truncated,X-Audio-Cache",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisAvailable,
				"speech":   backend.Name(),
				"storage":  cfg.Storage.AudioBackend,
				"prefetch": prefetchEnabled,
			},
		})
	})

	handler.Register(app, handler.Routes{
		Books:         bookHandler,
		Audio:         audioHandler,
		RateLimit:     rateLimiter.Handler(),
		GenerateQuota: quotaLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour),
		Progress:      handler.ProgressStream(batchService, hub),
	})

	// Start Asynq worker server
	var workerServer *asynq.Server
	if prefetchEnabled {
		workerServer = startWorkerServer(cfg, narrationService)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (speech backend: %s, audio storage: %s)", addr, backend.Name(), cfg.Storage.AudioBackend)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := batchService.Shutdown(shutdownCtx); err != nil {
		log.Printf("Generation jobs did not stop in time: %v", err)
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	rateLimiter.Stop()
	hub.Stop()
	log.Println("Server stopped")
}

// newSpeechBackend picks the configured narration backend, falling back to
// placeholder audio when it has no credentials.
func newSpeechBackend(cfg *config.Config) client.SpeechBackend {
	var backend client.SpeechBackend
	switch cfg.TTS.Provider {
	case model.SpeechProviderGoogle:
		backend = client.NewGoogleTTSClient(&cfg.TTS)
	case model.SpeechProviderOpenAI:
		backend = client.NewOpenAITTSClient(&cfg.OpenAI, cfg.TTS.SpeakingRate)
	case model.SpeechProviderMock:
		return client.NewMockSpeechClient()
	default:
		log.Printf("Warning: unknown speech provider %q, using mock audio", cfg.TTS.Provider)
		return client.NewMockSpeechClient()
	}

	if !backend.IsConfigured() {
		log.Printf("Warning: %s speech backend not configured, using mock audio", backend.Name())
		return client.NewMockSpeechClient()
	}
	return backend
}

func newAudioStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Storage.AudioBackend == model.StorageBackendR2 {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err == nil && r2Client.IsConfigured() {
			log.Printf("Storing audio in R2 bucket %s", cfg.R2.BucketName)
			return cache.NewObjectStore(r2Client, "audio"), nil
		}
		log.Printf("Warning: R2 not available (%v), storing audio on disk", err)
	}
	fs, err := cache.NewFileStore(cfg.Storage.AudioDir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func startWorkerServer(cfg *config.Config, narrationService *service.NarrationService) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				service.QueuePrefetch: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	prefetchWorker := worker.NewPrefetchWorker(narrationService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePrefetch, prefetchWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
		return nil
	}
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
