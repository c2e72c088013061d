package audit

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// IntegrationConfig configures audit logging for the application
type IntegrationConfig struct {
	// Database connection for DB logger
	DB *sql.DB

	// File logging configuration
	FileLoggingEnabled bool
	FileLogPath        string
	FileLogRotate      bool
	FileLogMaxSize     int64
	FileLogMaxFiles    int

	// DB logging configuration
	DBLoggingEnabled bool

	// Middleware configuration
	LogAllRequests bool // If false, only log mutations and sensitive operations

	// Retention policy
	RetentionPolicy RetentionPolicy
}

// DefaultIntegrationConfig returns a default integration configuration
func DefaultIntegrationConfig(db *sql.DB) IntegrationConfig {
	return IntegrationConfig{
		DB:                 db,
		FileLoggingEnabled: false,
		FileLogPath:        "/var/log/porter/audit",
		FileLogRotate:      true,
		FileLogMaxSize:     100 * 1024 * 1024, // 100MB
		FileLogMaxFiles:    10,
		DBLoggingEnabled:   true,
		LogAllRequests:     false,
		RetentionPolicy:    DefaultRetentionPolicy(),
	}
}

// SetupAuditLogging builds the configured logger chain and returns it
// along with the HTTP middleware and query handlers. The returned Logger
// is what the rest of the application records events through. Handlers
// are nil when DB logging is off.
func SetupAuditLogging(config IntegrationConfig) (Logger, *Middleware, *Handlers, error) {
	loggers := make([]Logger, 0)

	// Setup file logger if enabled
	if config.FileLoggingEnabled {
		fileConfig := FileLoggerConfig{
			BasePath: config.FileLogPath,
			Rotate:   config.FileLogRotate,
			MaxSize:  config.FileLogMaxSize,
			MaxFiles: config.FileLogMaxFiles,
		}

		fileLogger, err := NewFileLogger(fileConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create file logger: %w", err)
		}

		loggers = append(loggers, fileLogger)
	}

	// Setup database logger if enabled
	var dbLogger *DBLogger
	if config.DBLoggingEnabled && config.DB != nil {
		var err error
		dbLogger, err = NewDBLogger(config.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create database logger: %w", err)
		}

		loggers = append(loggers, dbLogger)
	}

	// Create multi-logger
	multiLogger := NewMultiLogger(loggers...)

	// Create middleware
	middleware := NewMiddleware(multiLogger, config.LogAllRequests)

	// Create store and handlers (only if DB logging is enabled)
	var handlers *Handlers
	if dbLogger != nil {
		store := NewDBStore(dbLogger)
		handlers = NewHandlers(store)
	}

	return multiLogger, middleware, handlers, nil
}

// WrapRouterWithAudit is a convenience function to wrap a router with audit middleware
func WrapRouterWithAudit(router *mux.Router, middleware *Middleware) http.Handler {
	return middleware.Handler(router)
}

// AddAuditRoutes adds audit API routes to a router
func AddAuditRoutes(router *mux.Router, handlers *Handlers) {
	if handlers != nil {
		handlers.RegisterRoutes(router)
	}
}
