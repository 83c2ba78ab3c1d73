package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port            string
	Environment     string
	LogFilePath     string
	DatabaseURL     string
	OpenAIAPIKey    string
	OpenAIModel     string
	TranslateURL    string
	TranslateAPIKey string
	NotifyChannel   string
}

// Load reads a .env file when present and falls back to the process
// environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("GO_ENV", "development"),
		LogFilePath:     getEnv("LOG_FILE_PATH", "encounter-coach.log"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		TranslateURL:    getEnv("TRANSLATE_URL", "http://localhost:5000"),
		TranslateAPIKey: getEnv("TRANSLATE_API_KEY", ""),
		NotifyChannel:   getEnv("PG_NOTIFY_CHANNEL", "encounter_completed"),
	}
}

// IsProduction reports whether the server runs with production logging.
func (c *Config) IsProduction() bool { return c.Environment == "production" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
