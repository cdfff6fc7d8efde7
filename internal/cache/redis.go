package cache

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Client backs the prediction cache and the session store.
var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

func InitRedis(ctx context.Context) {
	opts, err := options(os.Getenv("REDIS_URL"))
	if err != nil {
		log.Fatalf("failed to parse REDIS_URL: %v", err)
	}

	Client = newRedisClient(opts)
	if err := pingRedis(ctx, Client); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", opts.Addr, err)
	}
	log.Printf("Connected to Redis at %s (db %d)", opts.Addr, opts.DB)
}

// options accepts either a bare host:port or a redis:// / rediss:// URL.
func options(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = "localhost:6379"
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return parseRedisURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

func Close() {
	if Client == nil {
		return
	}
	if err := Client.Close(); err != nil {
		log.Printf("error closing Redis client: %v", err)
	}
	Client = nil
}
