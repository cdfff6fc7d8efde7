package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"aivest/internal/cache"
	"aivest/internal/config"
	"aivest/internal/db"
	"aivest/internal/mcpserver"
	"aivest/internal/ml/predictor"
	"aivest/internal/provider"
	"aivest/internal/repository"
	"aivest/internal/service"
	"aivest/pkg/tracing"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc          = godotenv.Load
	loadConfigFunc       = config.Load
	initPostgresFunc     = db.InitPostgres
	initRedisFunc        = cache.InitRedis
	initTracerFunc       = tracing.InitTracer
	newYahooProviderFunc = func(tracer trace.Tracer, requestsPerMin int) predictor.PriceSource {
		return provider.NewYahooProvider(tracer, requestsPerMin)
	}
	runStdioFunc = func(ctx context.Context, s *mcpserver.Server) error {
		return s.RunStdio(ctx)
	}
	listenAndServeFunc = func(srv *http.Server) error {
		return srv.ListenAndServe()
	}
	setupSignalNotify = ossignal.Notify
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)
	defer db.Close()
	defer cache.Close()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	pipeline := predictor.New(tracer, newYahooProviderFunc(tracer, cfg.YahooRequestsPerMin))
	var historyRepo service.PredictionRepository
	if db.Pool != nil {
		historyRepo = repository.NewPredictionRepository(db.Pool, tracer)
	}
	var redisClient service.RedisClient
	if cache.Client != nil {
		redisClient = cache.Client
	}
	predictionService := service.NewPredictionService(tracer, pipeline, historyRepo, redisClient, service.PredictionServiceOptions{
		Pipeline: predictor.Options{
			Epochs:     cfg.PredictEpochs,
			MinHistory: cfg.PredictMinHistory,
		},
		MaxConcurrent: cfg.PredictMaxConcurrent,
		CacheTTL:      time.Duration(cfg.PredictionCacheTTLSecs) * time.Second,
	})

	var history mcpserver.HistoryLister
	if historyRepo != nil {
		history = predictionService
	}
	server := mcpserver.New(tracer, predictionService, history, mcpserver.Options{
		DefaultSymbol:  cfg.DefaultSymbol,
		RequestTimeout: time.Duration(cfg.MCPRequestTimeoutSecs) * time.Second,
	})

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if cfg.MCPTransport == "http" {
		if err := serveHTTP(ctx, server, cfg); err != nil {
			log.Fatalf("MCP HTTP server error: %v", err)
		}
		return
	}

	log.Println("MCP server running on stdio")
	if err := runStdioFunc(ctx, server); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("MCP stdio session ended: %v", err)
	}
}

func serveHTTP(ctx context.Context, server *mcpserver.Server, cfg *config.Config) error {
	if cfg.MCPAuthToken == "" && !isLoopback(cfg.MCPHTTPBind) {
		return fmt.Errorf("MCP_AUTH_TOKEN is required when binding to %s", cfg.MCPHTTPBind)
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.MCPHTTPBind, strconv.Itoa(cfg.MCPHTTPPort)),
		Handler:           server.HTTPHandler(cfg.MCPAuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("MCP HTTP shutdown error: %v", err)
		}
	}()

	log.Printf("MCP server listening on http://%s/mcp", srv.Addr)
	if err := listenAndServeFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// isLoopback accepts "localhost" and any loopback literal such as 127.0.0.2 or ::1.
func isLoopback(host string) bool {
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
