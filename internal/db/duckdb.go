// Package db opens the embedded DuckDB engine used to aggregate query results.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Config holds database configuration. An empty DataDir keeps the database
// in memory.
type Config struct {
	DataDir string
	DBName  string
}

func (c Config) dsn() (string, error) {
	if c.DataDir == "" {
		return "", nil
	}
	dir := filepath.Join(c.DataDir, "duckdb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	name := c.DBName
	if name == "" {
		name = "alkis"
	}
	return filepath.Join(dir, name+".duckdb"), nil
}

// Open opens a new DuckDB handle.
func Open(cfg Config) (*sql.DB, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return conn, nil
}
