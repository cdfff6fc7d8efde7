package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"aivest/internal/config"
	"aivest/internal/mcpserver"
	"aivest/internal/ml/predictor"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func stubMCPDeps(cfg *config.Config) (restore func(), stdioCalls, httpCalls *int) {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origNewProvider := newYahooProviderFunc
	origRunStdio := runStdioFunc
	origListen := listenAndServeFunc
	origSetupSignal := setupSignalNotify

	var stdio, httpN int
	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return cfg }
	initPostgresFunc = func(context.Context) {}
	initRedisFunc = func(context.Context) {}
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newYahooProviderFunc = func(trace.Tracer, int) predictor.PriceSource { return nil }
	runStdioFunc = func(context.Context, *mcpserver.Server) error {
		stdio++
		return nil
	}
	listenAndServeFunc = func(*http.Server) error {
		httpN++
		return http.ErrServerClosed
	}
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		newYahooProviderFunc = origNewProvider
		runStdioFunc = origRunStdio
		listenAndServeFunc = origListen
		setupSignalNotify = origSetupSignal
	}, &stdio, &httpN
}

func runMain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func TestMainStdio(t *testing.T) {
	restore, stdio, httpN := stubMCPDeps(&config.Config{MCPTransport: "stdio"})
	defer restore()

	runMain(t)
	if *stdio != 1 || *httpN != 0 {
		t.Fatalf("expected stdio transport, got stdio=%d http=%d", *stdio, *httpN)
	}
}

func TestMainHTTP(t *testing.T) {
	restore, stdio, httpN := stubMCPDeps(&config.Config{
		MCPTransport: "http",
		MCPHTTPBind:  "127.0.0.1",
		MCPHTTPPort:  8090,
	})
	defer restore()

	runMain(t)
	if *httpN != 1 || *stdio != 0 {
		t.Fatalf("expected http transport, got stdio=%d http=%d", *stdio, *httpN)
	}
}

func TestServeHTTPRequiresTokenOffLoopback(t *testing.T) {
	s := mcpserver.New(trace.NewNoopTracerProvider().Tracer("test"), nil, nil, mcpserver.Options{})
	err := serveHTTP(context.Background(), s, &config.Config{MCPHTTPBind: "0.0.0.0", MCPHTTPPort: 8090})
	if err == nil {
		t.Fatal("expected error without token on a public bind")
	}
}

func TestServeHTTPAllowsAnyLoopbackWithoutToken(t *testing.T) {
	orig := listenAndServeFunc
	defer func() { listenAndServeFunc = orig }()
	var addr string
	listenAndServeFunc = func(srv *http.Server) error {
		addr = srv.Addr
		return http.ErrServerClosed
	}

	s := mcpserver.New(trace.NewNoopTracerProvider().Tracer("test"), nil, nil, mcpserver.Options{})
	tests := []struct {
		bind string
		addr string
	}{
		{"127.0.0.1", "127.0.0.1:8090"},
		{"127.0.0.2", "127.0.0.2:8090"},
		{"::1", "[::1]:8090"},
		{"localhost", "localhost:8090"},
	}
	for _, tt := range tests {
		if err := serveHTTP(context.Background(), s, &config.Config{MCPHTTPBind: tt.bind, MCPHTTPPort: 8090}); err != nil {
			t.Fatalf("bind %s: unexpected error: %v", tt.bind, err)
		}
		if addr != tt.addr {
			t.Fatalf("bind %s: listen address %q, want %q", tt.bind, addr, tt.addr)
		}
	}

	for _, bind := range []string{"0.0.0.0", "::", "10.0.0.5"} {
		if err := serveHTTP(context.Background(), s, &config.Config{MCPHTTPBind: bind, MCPHTTPPort: 8090}); err == nil {
			t.Fatalf("bind %s: expected token requirement", bind)
		}
	}
}
