package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// PostgresConnector wraps the relational-cloud connection pool.
type PostgresConnector struct {
	Conn *sql.DB
}

// ConnectPostgres establishes a connection to the relational backend.
func ConnectPostgres(databaseURL string) (*PostgresConnector, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("relational storage requires a connection string")
	}

	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresConnector{Conn: conn}, nil
}

func (c *PostgresConnector) Engine() policy.StorageEngine {
	return policy.EngineRelational
}

func (c *PostgresConnector) Ping(ctx context.Context) error {
	if c.Conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return c.Conn.PingContext(ctx)
}

func (c *PostgresConnector) Close() error {
	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}

// Health returns the health status of the connection pool.
func (c *PostgresConnector) Health() map[string]interface{} {
	stats := c.Conn.Stats()

	health := map[string]interface{}{
		"engine":           string(policy.EngineRelational),
		"status":           "healthy",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"max_open_conns":   stats.MaxOpenConnections,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}

	return health
}
