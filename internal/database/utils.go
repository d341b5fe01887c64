package database

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"contrib.go.opencensus.io/integrations/ocsql"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/pkg/logger"
)

var (
	tracedDriverOnce sync.Once
	tracedDriverName string
	tracedDriverErr  error
)

// GetConnectionPoolSettings returns connection pool settings based on environment
func GetConnectionPoolSettings() (maxOpen, maxIdle int, maxLifetime time.Duration) {
	environment := os.Getenv("ENVIRONMENT")

	// Use smaller pools for test environment to conserve connections
	if environment == "test" || os.Getenv("INTEGRATION_TESTS") == "true" {
		return 10, 5, 2 * time.Minute
	}

	// History writes are short and bounded by the batch's history timeout
	return 25, 25, 20 * time.Minute
}

// GetSystemDSN returns the DSN for the history database
func GetSystemDSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		sslMode(cfg),
	)
}

// GetPostgresDSN returns the DSN for connecting to PostgreSQL server without specifying a database
func GetPostgresDSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/postgres?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		sslMode(cfg),
	)
}

func sslMode(cfg *config.DatabaseConfig) string {
	if cfg.SSLMode == "" {
		return "disable"
	}
	return cfg.SSLMode
}

// DriverName returns the sql driver to open, the postgres driver wrapped with
// OpenCensus tracing when tracing is enabled
func DriverName(tracingEnabled bool) (string, error) {
	if !tracingEnabled {
		return "postgres", nil
	}
	tracedDriverOnce.Do(func() {
		tracedDriverName, tracedDriverErr = ocsql.Register("postgres", ocsql.WithAllTraceOptions())
	})
	if tracedDriverErr != nil {
		return "", fmt.Errorf("failed to register opencensus sql driver: %w", tracedDriverErr)
	}
	return tracedDriverName, nil
}

// Connect ensures the history database exists, opens it and creates the schema
func Connect(cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	if err := EnsureSystemDatabaseExists(GetPostgresDSN(&cfg.Database), cfg.Database.DBName); err != nil {
		return nil, fmt.Errorf("failed to ensure history database exists: %w", err)
	}

	driverName, err := DriverName(cfg.Tracing.Enabled)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		log.Info("Database driver wrapped with OpenCensus tracing")
	}

	db, err := sql.Open(driverName, GetSystemDSN(&cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	maxOpen, maxIdle, maxLifetime := GetConnectionPoolSettings()
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	db.SetConnMaxIdleTime(maxLifetime / 2)

	if err := InitializeDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.DBName,
	}).Info("Connected to history database")
	return db, nil
}

// EnsureSystemDatabaseExists creates the history database if it doesn't exist
func EnsureSystemDatabaseExists(dsn string, dbName string) error {
	// Connect to PostgreSQL server without specifying a database
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL server: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL server: %w", err)
	}
	return ensureDatabase(db, dbName)
}

func ensureDatabase(db *sql.DB, dbName string) error {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)"
	if err := db.QueryRow(query, dbName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if exists {
		return nil
	}

	createDBQuery := fmt.Sprintf(`CREATE DATABASE "%s"`, strings.ReplaceAll(dbName, `"`, `""`))
	if _, err := db.Exec(createDBQuery); err != nil {
		return fmt.Errorf("failed to create history database: %w", err)
	}
	return nil
}
