package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the server reads from its environment.
type Config struct {
	Addr           string
	DatabaseDSN    string
	JWTSecret      string
	RedisAddr      string
	CORSOrigins    []string
	HistoryLimit   int
	MaxMessageSize int64
	TokenTTL       time.Duration
}

// LoadDotenv loads the first .env found in the working directory or its parents.
// A missing file is fine (production sets real env vars).
func LoadDotenv() {
	for _, p := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			log.Println("[env] loaded", p)
			return
		}
	}
}

// Load reads the configuration from the environment. addr comes from the -addr flag.
func Load(addr string) (*Config, error) {
	cfg := &Config{
		Addr:           addr,
		DatabaseDSN:    os.Getenv("DB_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CORSOrigins:    splitOrigins(getenv("CORS_ORIGINS", "http://localhost:3000")),
		HistoryLimit:   50,
		MaxMessageSize: 4096,
		TokenTTL:       24 * time.Hour,
	}

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}

	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("HISTORY_LIMIT must be a positive integer, got %q", v)
		}
		cfg.HistoryLimit = n
	}

	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_MESSAGE_SIZE must be a positive integer, got %q", v)
		}
		cfg.MaxMessageSize = n
	}

	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("TOKEN_TTL must be a positive duration, got %q", v)
		}
		cfg.TokenTTL = d
	}

	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// splitOrigins accepts a comma-separated list and drops trailing slashes.
func splitOrigins(raw string) []string {
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
