package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey       string
	GeminiModel        string
	GeminiSystemPrompt string
	DatabaseURL        string
	HTTPPort           string
	LogLevel           string
	JWTSecret          string
	JWTTTL             time.Duration
	HistoryLimit       int
	AutoTitle          bool
}

// Load reads an optional .env file (the first existing path wins) and then
// the process environment. A missing GEMINI_API_KEY is not an error: the
// server starts with the AI service marked as not configured.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", f, err)
			}
			break
		}
	}

	cfg := &Config{
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiSystemPrompt: getEnv("GEMINI_SYSTEM_PROMPT", ""),
		DatabaseURL:        getEnv("DATABASE_URL", "chat_history.db"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTTTL:             time.Duration(getEnvAsInt("JWT_TTL_MINUTES", 30)) * time.Minute,
		HistoryLimit:       getEnvAsInt("HISTORY_LIMIT", 0),
		AutoTitle:          getEnvAsBool("AUTO_TITLE", false),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}
	if cfg.HistoryLimit < 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be >= 0, got %d", cfg.HistoryLimit)
	}
	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
