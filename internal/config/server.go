package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Server is the ingest server configuration, loaded from environment
// variables (with .env support for development).
type Server struct {
	Host       string // BILAN_HOST, default 0.0.0.0
	Port       int    // BILAN_PORT, default 3001
	APIKey     string // BILAN_API_KEY (plaintext)
	APIKeyHash string // BILAN_API_KEY_HASH (bcrypt; takes precedence)
	DataDir    string // BILAN_DATA_DIR, default ./data
	LogLevel   string // BILAN_LOG_LEVEL, default info
	LogFormat  string // BILAN_LOG_FORMAT, default auto
}

// LoadServer reads the server config from the environment. A .env file in
// the working directory is merged in without overriding real env vars.
func LoadServer() (Server, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Server{
		Host:       envOr("BILAN_HOST", "0.0.0.0"),
		Port:       3001,
		APIKey:     os.Getenv("BILAN_API_KEY"),
		APIKeyHash: os.Getenv("BILAN_API_KEY_HASH"),
		DataDir:    envOr("BILAN_DATA_DIR", "./data"),
		LogLevel:   envOr("BILAN_LOG_LEVEL", "info"),
		LogFormat:  envOr("BILAN_LOG_FORMAT", "auto"),
	}

	if raw := os.Getenv("BILAN_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Server{}, fmt.Errorf("invalid BILAN_PORT %q", raw)
		}
		cfg.Port = port
	}

	if cfg.APIKey == "" && cfg.APIKeyHash == "" {
		return Server{}, fmt.Errorf("BILAN_API_KEY or BILAN_API_KEY_HASH is required (generate one with `bilan genkey`)")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
