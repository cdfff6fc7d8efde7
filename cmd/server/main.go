package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aivest/internal/advisor"
	"aivest/internal/auth"
	"aivest/internal/bot"
	"aivest/internal/cache"
	"aivest/internal/config"
	"aivest/internal/db"
	"aivest/internal/handler"
	"aivest/internal/job"
	"aivest/internal/ml/predictor"
	"aivest/internal/provider"
	"aivest/internal/repository"
	"aivest/internal/service"
	"aivest/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "aivest/docs"
)

var (
	loadEnvFunc          = godotenv.Load
	loadConfigFunc       = config.Load
	initPostgresFunc     = db.InitPostgres
	initRedisFunc        = cache.InitRedis
	initTracerFunc       = tracing.InitTracer
	runMigrationsFunc    = runMigrations
	newYahooProviderFunc = func(tracer trace.Tracer, requestsPerMin int) predictor.PriceSource {
		return provider.NewYahooProvider(tracer, requestsPerMin)
	}
	newWarmerFunc          = job.NewPredictionWarmer
	startWarmerFunc        = func(w *job.PredictionWarmer, ctx context.Context) { go w.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newOpenAIClientFunc    = advisor.NewOpenAIClient
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           AIvest API
// @version         1.0
// @description     Next-day stock close forecasts from a per-request LSTM, with accounts and prediction history.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Repositories only exist with a database; nil interfaces disable history and accounts.
	var historyRepo service.PredictionRepository
	var userStore auth.UserStore
	if db.Pool != nil {
		if err := runMigrationsFunc(ctx, db.Pool); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		historyRepo = repository.NewPredictionRepository(db.Pool, tracer)
		userStore = repository.NewUserRepository(db.Pool, tracer)
	}
	var redisClient service.RedisClient
	var sessionStore auth.SessionStore
	if cache.Client != nil {
		redisClient = cache.Client
		sessionStore = cache.Client
	}

	pipeline := predictor.New(tracer, newYahooProviderFunc(tracer, cfg.YahooRequestsPerMin))
	predictionService := service.NewPredictionService(tracer, pipeline, historyRepo, redisClient, service.PredictionServiceOptions{
		Pipeline: predictor.Options{
			Epochs:     cfg.PredictEpochs,
			MinHistory: cfg.PredictMinHistory,
		},
		MaxConcurrent: cfg.PredictMaxConcurrent,
		CacheTTL:      time.Duration(cfg.PredictionCacheTTLSecs) * time.Second,
	})
	authService := auth.NewService(tracer, userStore, sessionStore, time.Duration(cfg.SessionTTLSecs)*time.Second)

	var advisorService *advisor.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		advisorService = advisor.NewAdvisorService(tracer, newOpenAIClientFunc(cfg.OpenAIAPIKey), predictionService, cfg.OpenAIModel)
		log.Println("Advisor enabled")
	}

	// Keep the cache hot for the configured symbols (stopped by ctx cancel)
	warmer := newWarmerFunc(tracer, predictionService, cfg.WarmSymbols, cfg.WarmIntervalSecs)
	startWarmerFunc(warmer, ctx)

	// Start Telegram bot
	var botAdvisor bot.Advisor
	if advisorService != nil {
		botAdvisor = advisorService
	}
	startTelegramBotFunc(cfg.TelegramBotToken, predictionService, botAdvisor, bot.Options{
		DefaultSymbol:  cfg.DefaultSymbol,
		CurrencySymbol: cfg.CurrencySymbol,
	})

	// Create handlers and routes
	var handlerAuth handler.AuthService
	if authService.Enabled() {
		handlerAuth = authService
	}
	h := newHandlerFunc(tracer, predictionService, handlerAuth, handler.Options{
		DefaultSymbol:  cfg.DefaultSymbol,
		CurrencySymbol: cfg.CurrencySymbol,
		AuthRequired:   cfg.AuthRequired,
	})
	if advisorService != nil {
		h.SetExplainer(advisorService)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("aivest"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	db.Close()
	cache.Close()

	log.Println("Server exiting")
}

func runMigrations(ctx context.Context, pool db.MigrationPool) error {
	m, err := db.NewMigrator(ctx, pool, db.MigrationsFS)
	if err != nil {
		return err
	}
	n, err := m.Up(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Applied %d migrations", n)
	}
	return nil
}
