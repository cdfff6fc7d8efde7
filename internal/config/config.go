package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr         string
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string

	YahooRequestsPerMin int

	PredictEpochs          int
	PredictMinHistory      int
	PredictMaxConcurrent   int
	PredictionCacheTTLSecs int
	DefaultSymbol          string
	CurrencySymbol         string

	AuthRequired   bool
	SessionTTLSecs int

	WarmIntervalSecs int
	WarmSymbols      []string

	SSHPort               int
	SSHHostKeyPath        string
	SSHAuthorizedKeysPath string

	MCPTransport          string
	MCPHTTPBind           string
	MCPHTTPPort           int
	MCPAuthToken          string
	MCPRequestTimeoutSecs int

	OpenAIAPIKey string
	OpenAIModel  string
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		MCPAuthToken:     os.Getenv("MCP_AUTH_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, credential store and history disabled")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, explanations will be disabled")
	}

	cfg.HTTPAddr = stringEnv("HTTP_ADDR", ":8080")

	cfg.YahooRequestsPerMin = positiveIntEnv("YAHOO_REQUESTS_PER_MIN", 30)

	cfg.PredictEpochs = positiveIntEnv("PREDICT_EPOCHS", 3)
	cfg.PredictMinHistory = positiveIntEnv("PREDICT_MIN_HISTORY", 150)
	cfg.PredictMaxConcurrent = positiveIntEnv("PREDICT_MAX_CONCURRENT", 2)
	cfg.PredictionCacheTTLSecs = positiveIntEnv("PREDICTION_CACHE_TTL_SECS", 1800)
	cfg.DefaultSymbol = strings.ToUpper(stringEnv("DEFAULT_SYMBOL", "INFY.NS"))
	cfg.CurrencySymbol = stringEnv("CURRENCY_SYMBOL", "₹")

	cfg.AuthRequired = strings.EqualFold(strings.TrimSpace(os.Getenv("AUTH_REQUIRED")), "true")
	cfg.SessionTTLSecs = positiveIntEnv("SESSION_TTL_SECS", 86400)
	if cfg.AuthRequired && cfg.DatabaseURL == "" {
		log.Println("Warning: AUTH_REQUIRED=true without DATABASE_URL, nobody will be able to log in")
	}

	cfg.WarmIntervalSecs = positiveIntEnv("WARM_INTERVAL_SECS", 3600)
	cfg.WarmSymbols = symbolListEnv("WARM_SYMBOLS")

	cfg.SSHPort = positiveIntEnv("SSH_PORT", 2222)
	cfg.SSHHostKeyPath = stringEnv("SSH_HOST_KEY_PATH", ".ssh/aivest_ed25519")
	cfg.SSHAuthorizedKeysPath = os.Getenv("SSH_AUTHORIZED_KEYS")

	cfg.MCPTransport = strings.ToLower(stringEnv("MCP_TRANSPORT", "stdio"))
	if cfg.MCPTransport != "stdio" && cfg.MCPTransport != "http" {
		log.Printf("Warning: unsupported MCP_TRANSPORT=%q, defaulting to stdio", cfg.MCPTransport)
		cfg.MCPTransport = "stdio"
	}
	cfg.MCPHTTPBind = stringEnv("MCP_HTTP_BIND", "127.0.0.1")
	cfg.MCPHTTPPort = positiveIntEnv("MCP_HTTP_PORT", 8090)
	// training a model takes a few seconds, so the default is generous
	cfg.MCPRequestTimeoutSecs = positiveIntEnv("MCP_REQUEST_TIMEOUT_SECS", 120)

	cfg.OpenAIModel = stringEnv("OPENAI_MODEL", "gpt-4o-mini")

	return cfg
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// positiveIntEnv falls back to def when the variable is unset, unparsable or not positive.
func positiveIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

// symbolListEnv parses a comma separated ticker list, upper-cased and de-duplicated.
func symbolListEnv(key string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(os.Getenv(key), ",") {
		s := strings.ToUpper(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
