// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package database provides DuckDB-backed storage for the paper catalog,
// the crawl ledger, and the feedback log.
//
// All access methods are context-scoped and idempotent. Callers that run
// as background jobs open the database when the job starts and close it
// on every exit path; nothing here holds handles lazily.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  config.DatabaseConfig
}

// New opens (or creates) the database and initializes the schema. An
// empty cfg.Path opens an in-memory database, used by tests.
func New(cfg config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("?access_mode=read_write&threads=%d&max_memory=%s", numThreads, maxMemory)
	if cfg.Path != "" {
		// Ensure the parent directory exists so DuckDB can create the file.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		connStr = cfg.Path + connStr
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an embedded engine; a small pool avoids writer contention.
	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn, cfg: cfg}

	if err := db.initSchema(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close database after schema error")
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("Database initialized")
	return db, nil
}

// initSchema creates tables and sequences if they do not exist.
func (db *DB) initSchema() error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS papers_id_seq`,
		`CREATE TABLE IF NOT EXISTS papers (
			id BIGINT PRIMARY KEY DEFAULT nextval('papers_id_seq'),
			title VARCHAR NOT NULL UNIQUE,
			abstract VARCHAR NOT NULL,
			url VARCHAR NOT NULL,
			authors VARCHAR NOT NULL DEFAULT '[]',
			keywords VARCHAR NOT NULL DEFAULT '[]',
			categories VARCHAR NOT NULL DEFAULT '[]',
			source VARCHAR NOT NULL,
			embedding FLOAT[],
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS crawled_urls (
			url VARCHAR PRIMARY KEY,
			last_crawled_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			user_id BIGINT NOT NULL,
			paper_id BIGINT NOT NULL,
			kind VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE SEQUENCE IF NOT EXISTS users_id_seq`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY DEFAULT nextval('users_id_seq'),
			email VARCHAR NOT NULL UNIQUE,
			subscriptions VARCHAR NOT NULL DEFAULT '[]'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Conn exposes the underlying connection for health checks.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases the database handle.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
