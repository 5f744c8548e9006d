package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/config"
	"github.com/username/coinfolio/backend/src/database"
	"github.com/username/coinfolio/backend/src/handlers"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/pricing"
	"github.com/username/coinfolio/backend/src/security"
	"github.com/username/coinfolio/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// historicalOracle prefers a local rate file when one is configured; the
// CryptoCompare client remains the fallback for assets the file omits.
func historicalOracle(cc *pricing.CryptoCompare) pricing.Oracle {
	if config.Cfg.HistoricalDataPath == "" {
		return cc
	}
	rateFile, err := pricing.LoadRateFile(config.Cfg.HistoricalDataPath)
	if err != nil {
		logger.L.Error("Failed to load historical rate file, falling back to price API", "path", config.Cfg.HistoricalDataPath, "error", err)
		return cc
	}
	logger.L.Info("Historical rate file loaded", "path", config.Cfg.HistoricalDataPath)
	return rateFile
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Coinfolio backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing price sources...")
	cryptoCompare := pricing.NewCryptoCompare(config.Cfg.PriceAPIBaseURL, config.Cfg.PriceCacheTTL)
	oracle := historicalOracle(cryptoCompare)

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(services.DefaultReportExpiry, services.ReportCleanupDefault)

	logger.L.Info("Initializing services and handlers...")
	resolver := assets.NewResolver()
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	emailService := services.NewEmailService()
	reportService := services.NewReportService(oracle, cryptoCompare, resolver, reportCache)
	importService := services.NewImportService(resolver, reportService)

	userHandler := handlers.NewUserHandler(authService)
	importHandler := handlers.NewImportHandler(importService)
	reportHandler := handlers.NewReportHandler(reportService, emailService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/auth/register", userHandler.RegisterUserHandler)
	apiRouter.HandleFunc("POST /api/auth/login", userHandler.LoginUserHandler)
	apiRouter.Handle("POST /api/auth/logout", userHandler.AuthMiddleware(http.HandlerFunc(userHandler.LogoutUserHandler)))

	requireAuth := func(handler http.HandlerFunc) http.Handler {
		return userHandler.AuthMiddleware(handler)
	}

	apiRouter.Handle("POST /api/import", requireAuth(importHandler.HandleImport))
	apiRouter.Handle("GET /api/report", requireAuth(reportHandler.HandleTaxReport))
	apiRouter.Handle("GET /api/holdings", requireAuth(reportHandler.HandleHoldings))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "COINFOLIO Backend is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
