package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Database
	DatabaseURL string

	// Gemini
	GeminiAPIKey string

	// Exa AI (web_search tool)
	ExaAPIKey string

	// Embeddings (vector write-through)
	EmbeddingAPIKey string
	EmbeddingURL    string

	// Rate Limiting
	RateLimitPerMinute int
	RateLimitPerHour   int

	// Credential cache
	CredCacheMax int

	// Server
	ServerShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/enchanted_chat?sslmode=disable"),

		// Gemini
		GeminiAPIKey: getEnvOrDefault("GEMINI_API_KEY", ""),

		// Exa AI
		ExaAPIKey: getEnvOrDefault("EXA_API_KEY", ""),

		// Embeddings
		EmbeddingAPIKey: getEnvOrDefault("EMBEDDING_API_KEY", ""),
		EmbeddingURL:    getEnvOrDefault("EMBEDDING_URL", "https://openrouter.ai/api/v1/embeddings"),

		// Rate limiting. Invalid values fall back to defaults with a warning.
		RateLimitPerMinute: getEnvAsPositiveInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   getEnvAsPositiveInt("RATE_LIMIT_PER_HOUR", 500),

		// Credential cache
		CredCacheMax: getEnvAsPositiveInt("CRED_CACHE_MAX", 100),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 5),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// getEnvAsPositiveInt is getEnvAsInt with a strictly-positive requirement.
// Zero or negative limits would deny every request, so they fall back too.
func getEnvAsPositiveInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("Warning: Invalid value %s='%s', using default %d", key, value, defaultValue)
	}
	return defaultValue
}
