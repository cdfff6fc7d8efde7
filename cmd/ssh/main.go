package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"aivest/internal/auth"
	"aivest/internal/cache"
	"aivest/internal/config"
	"aivest/internal/db"
	"aivest/internal/domain"
	"aivest/internal/ml/predictor"
	"aivest/internal/provider"
	"aivest/internal/repository"
	"aivest/internal/service"
	"aivest/internal/tui"
	"aivest/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	gossh "golang.org/x/crypto/ssh"
)

// ctxKey is a typed context key to avoid collisions.
type ctxKey string

const sshUserKey ctxKey = "ssh_user"

// Authenticator checks a username/password pair against the credential store.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

var (
	loadEnvFunc          = godotenv.Load
	loadConfigFunc       = config.Load
	initPostgresFunc     = db.InitPostgres
	initRedisFunc        = cache.InitRedis
	initTracerFunc       = tracing.InitTracer
	newYahooProviderFunc = func(tracer trace.Tracer, requestsPerMin int) predictor.PriceSource {
		return provider.NewYahooProvider(tracer, requestsPerMin)
	}
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
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

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	pipeline := predictor.New(tracer, newYahooProviderFunc(tracer, cfg.YahooRequestsPerMin))
	var historyRepo service.PredictionRepository
	var userStore auth.UserStore
	if db.Pool != nil {
		historyRepo = repository.NewPredictionRepository(db.Pool, tracer)
		userStore = repository.NewUserRepository(db.Pool, tracer)
	}
	var redisClient service.RedisClient
	var sessionStore auth.SessionStore
	if cache.Client != nil {
		redisClient = cache.Client
		sessionStore = cache.Client
	}
	predictionService := service.NewPredictionService(tracer, pipeline, historyRepo, redisClient, service.PredictionServiceOptions{
		Pipeline: predictor.Options{
			Epochs:     cfg.PredictEpochs,
			MinHistory: cfg.PredictMinHistory,
		},
		MaxConcurrent: cfg.PredictMaxConcurrent,
		CacheTTL:      time.Duration(cfg.PredictionCacheTTLSecs) * time.Second,
	})
	authService := auth.NewService(tracer, userStore, sessionStore, time.Duration(cfg.SessionTTLSecs)*time.Second)

	opts := []ssh.Option{
		wish.WithAddress(fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
	}
	if authService.Enabled() {
		opts = append(opts, wish.WithPasswordAuth(func(sctx ssh.Context, password string) bool {
			username, ok := checkPassword(context.Background(), authService, sctx.User(), password)
			if ok {
				sctx.SetValue(sshUserKey, username)
			}
			return ok
		}))
	}
	if cfg.SSHAuthorizedKeysPath != "" {
		keys, err := loadAuthorizedKeys(cfg.SSHAuthorizedKeysPath)
		if err != nil {
			log.Fatalf("failed to load authorized keys: %v", err)
		}
		opts = append(opts, wish.WithPublicKeyAuth(func(sctx ssh.Context, key ssh.PublicKey) bool {
			if !keyAllowed(keys, key) {
				log.Printf("SSH key auth denied: user=%s fingerprint=%s", sctx.User(), gossh.FingerprintSHA256(key))
				return false
			}
			sctx.SetValue(sshUserKey, sctx.User())
			return true
		}))
	}
	if !authService.Enabled() && cfg.SSHAuthorizedKeysPath == "" {
		log.Println("Warning: neither DATABASE_URL nor SSH_AUTHORIZED_KEYS set, all SSH logins will be refused")
	}

	opts = append(opts, wish.WithMiddleware(
		bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
			username, _ := s.Context().Value(sshUserKey).(string)
			model := tui.NewAppModel(tui.Services{
				Predictions:    predictionService,
				Username:       username,
				DefaultSymbol:  cfg.DefaultSymbol,
				CurrencySymbol: cfg.CurrencySymbol,
			})
			pty, _, _ := s.Pty()
			model.SetSize(pty.Window.Width, pty.Window.Height)
			return model, []tea.ProgramOption{tea.WithAltScreen()}
		}),
		logging.Middleware(),
	))

	srv, err := newWishServerFunc(opts...)
	if err != nil {
		log.Fatalf("failed to create SSH server: %v", err)
	}

	if srv != nil {
		go func() {
			log.Printf("SSH server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("SSH server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down SSH server...")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("SSH server shutdown error: %v", err)
		}
	}
	db.Close()
	cache.Close()

	log.Println("SSH server exited")
}

func checkPassword(ctx context.Context, authn Authenticator, username, password string) (string, bool) {
	user, err := authn.Authenticate(ctx, username, password)
	if err != nil {
		log.Printf("SSH password auth denied: user=%s err=%v", username, err)
		return "", false
	}
	log.Printf("SSH password auth accepted: user=%s", user.Username)
	return user.Username, true
}

// loadAuthorizedKeys reads an OpenSSH authorized_keys file into a fingerprint set.
func loadAuthorizedKeys(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, comment, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
		keys[gossh.FingerprintSHA256(key)] = comment
	}
	return keys, nil
}

func keyAllowed(keys map[string]string, key gossh.PublicKey) bool {
	_, ok := keys[gossh.FingerprintSHA256(key)]
	return ok
}
