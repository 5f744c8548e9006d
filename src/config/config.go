package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	JWTSecret          string
	Port               string
	DatabasePath       string
	LogLevel           string
	AccessTokenExpiry  time.Duration
	MaxImportSizeBytes int64

	// Accounting settings. These seed the per-run accountant; a report
	// request may override the window but not the jurisdiction rules.
	ProfitCurrency       string
	TaxfreeAfterPeriod   time.Duration // 0 means every disposal is taxable
	IncludeCrypto2Crypto bool
	IncludeGasCosts      bool
	IgnoredAssets        []string

	// Price oracle settings.
	PriceAPIBaseURL    string
	PriceCacheTTL      time.Duration
	HistoricalDataPath string // optional file-backed rates for offline runs

	// Report notification (optional).
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
}

var Cfg *AppConfig

func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: no .env file found, relying on OS environment variables and defaults.")
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "insecure-development-jwt-secret-key-minimum-32-bytes")
	if jwtSecret == "insecure-development-jwt-secret-key-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	Cfg = &AppConfig{
		JWTSecret:          jwtSecret,
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./coinfolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),
		MaxImportSizeBytes: getEnvAsInt64("MAX_IMPORT_SIZE_BYTES", 10*1024*1024),

		ProfitCurrency:       getEnv("PROFIT_CURRENCY", "EUR"),
		TaxfreeAfterPeriod:   getEnvAsDuration("TAXFREE_AFTER_PERIOD", 365*24*time.Hour),
		IncludeCrypto2Crypto: getEnvAsBool("INCLUDE_CRYPTO2CRYPTO", true),
		IncludeGasCosts:      getEnvAsBool("INCLUDE_GAS_COSTS", true),
		IgnoredAssets:        getEnvAsList("IGNORED_ASSETS"),

		PriceAPIBaseURL:    getEnv("PRICE_API_BASE_URL", "https://min-api.cryptocompare.com"),
		PriceCacheTTL:      getEnvAsDuration("PRICE_CACHE_TTL", 24*time.Hour),
		HistoricalDataPath: getEnv("HISTORICAL_DATA_PATH", ""),

		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "Coinfolio"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ProfitCurrency=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ProfitCurrency)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s ('%s'), using default: %v", key, valueStr, fallback)
		return fallback
	}
	return value
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
		return fallback
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
