package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort      string
	DatabaseURL   string
	LogLevel      string
	LogFormat     string
	PublicBaseURL string
	JWTSecret     string
	// Peers allowed to set X-Forwarded-For / X-Real-IP.
	TrustedProxies []string

	GeminiAPIKey string
	GeminiModel  string

	SerpAPIKey     string
	SearchEndpoint string
	SearchLocation string
	SearchDevice   string

	CacheTTL             time.Duration
	CacheSweepInterval   time.Duration
	TrendingWindow       time.Duration
	ProviderTimeout      time.Duration
	LLMTimeout           time.Duration
	ProviderRatePerSec   float64
	ProviderRateBurst    int
	MaxConcurrentQueries int
}

var AppConfig Config

// LoadConfig reads .env (when present) and the process environment into AppConfig.
// The returned bool reports whether a .env file was found.
func LoadConfig() (bool, error) {
	foundDotEnv := godotenv.Load() == nil

	AppConfig = Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", "shopping_assistant.db"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "json")),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:     getEnv("JWT_SECRET", ""),

		TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),

		SerpAPIKey:     getEnv("SERPAPI_API_KEY", ""),
		SearchEndpoint: getEnv("SEARCH_ENDPOINT", "https://serpapi.com/search.json"),
		SearchLocation: getEnv("SEARCH_LOCATION", ""),
		SearchDevice:   strings.ToLower(getEnv("SEARCH_DEVICE", "desktop")),

		CacheTTL:             getEnvAsDuration("RECOMMENDATION_CACHE_TTL", time.Hour),
		CacheSweepInterval:   getEnvAsDuration("CACHE_SWEEP_INTERVAL", 15*time.Minute),
		TrendingWindow:       getEnvAsDuration("TRENDING_WINDOW", 48*time.Hour),
		ProviderTimeout:      getEnvAsDuration("PROVIDER_TIMEOUT", 8*time.Second),
		LLMTimeout:           getEnvAsDuration("LLM_TIMEOUT", 15*time.Second),
		ProviderRatePerSec:   getEnvAsFloat("PROVIDER_RATE_PER_SECOND", 5),
		ProviderRateBurst:    getEnvAsInt("PROVIDER_RATE_BURST", 10),
		MaxConcurrentQueries: getEnvAsInt("MAX_CONCURRENT_QUERIES", 8),
	}

	return foundDotEnv, AppConfig.Validate()
}

func (c Config) Validate() error {
	if c.SerpAPIKey == "" {
		return fmt.Errorf("SERPAPI_API_KEY environment variable is required")
	}
	if c.SearchDevice != "desktop" && c.SearchDevice != "mobile" {
		return fmt.Errorf("SEARCH_DEVICE must be desktop or mobile, got %q", c.SearchDevice)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("RECOMMENDATION_CACHE_TTL must be positive")
	}
	if c.TrendingWindow <= 0 {
		return fmt.Errorf("TRENDING_WINDOW must be positive")
	}
	if c.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_QUERIES must be positive")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated value, dropping empty parts.
func getEnvAsSlice(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsDuration accepts Go duration strings ("90s", "1h").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
