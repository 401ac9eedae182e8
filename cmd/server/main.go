/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reminder engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Configure logging (level, optional rotating file)
  3. Initialize SQLite store
  4. Select push gateway (HTTP client or no-op)
  5. Create API handler, authenticator, and router
  6. Start evaluation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080, env PORT)
  -db             SQLite database path (default: reminders.db, env DB_PATH)
                  Use ":memory:" for an in-memory database
  -log-level      debug|info|warn|error (default: info, env LOG_LEVEL)
  -log-file       rotating log file path; empty logs to stdout only
                  (env LOG_FILE)
  -eval-interval  recurring-rule pass interval; 0 disables the
                  in-process scheduler (default: 1m, env EVAL_INTERVAL)

ENVIRONMENT:
  JWT_SECRET          HS256 secret for bearer tokens. An ephemeral
                      secret is generated when unset (dev only).
  SERVICE_KEY         Shared key for machine callers. Empty disables
                      the service tier.
  PUSH_GATEWAY_URL    Push gateway endpoint. Empty selects the no-op
                      gateway (pushes logged, reported delivered).
  PUSH_GATEWAY_TOKEN  Optional bearer token for the gateway.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the evaluation scheduler (waits for an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/reminders.db"

  # Run with in-memory database and verbose logging
  ./server -db=":memory:" -log-level=debug

  # Run without the in-process scheduler (external cron calls evaluate)
  ./server -eval-interval=0

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/warp/reminder-engine/api"
	"github.com/warp/reminder-engine/push"
	"github.com/warp/reminder-engine/reminder"
	"github.com/warp/reminder-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags (env supplies the defaults)
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "reminders.db"), "SQLite database path")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	logFile := flag.String("log-file", envStr("LOG_FILE", ""), "Rotating log file path (empty: stdout only)")
	evalInterval := flag.Duration("eval-interval", envDuration("EVAL_INTERVAL", time.Minute), "Recurring-rule pass interval (0 disables)")
	flag.Parse()

	logger := newLogger(*logLevel, *logFile)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	// Credentials
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = ephemeralSecret()
		logger.Warn("JWT_SECRET not set; using an ephemeral secret (tokens will not survive restarts)")
	}
	serviceKey := os.Getenv("SERVICE_KEY")
	if serviceKey == "" {
		logger.Info("SERVICE_KEY not set; service-key endpoints are disabled")
	}

	// Push gateway
	var gateway reminder.PushGateway
	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		gateway = push.NewClient(url, os.Getenv("PUSH_GATEWAY_TOKEN"), 10*time.Second, logger)
		logger.WithField("endpoint", url).Info("Push gateway configured")
	} else {
		gateway = push.NewNoop(logger)
		logger.Info("PUSH_GATEWAY_URL not set; push notifications are logged only")
	}

	// Wire handler, auth, router
	auth := api.NewAuthenticator([]byte(secret), serviceKey, store, logger)
	handler := api.NewHandler(store, gateway, auth, logger)
	router := api.NewRouter(handler)

	// In-process evaluation scheduler
	scheduler := api.NewEvaluationScheduler(handler, *evalInterval)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("🚀 Server starting on http://localhost:%d", *port)
		logger.Infof("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

// newLogger builds the application logger. A non-empty file path adds a
// rotating file next to stdout.
func newLogger(level, file string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if file != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}

	return logger
}

func ephemeralSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
