package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Config selects the backing store. Name distinguishes independent in-memory
// databases (tests run several side by side).
type Config struct {
	Name string
}

// Open opens a shared in-memory SQLite database with foreign keys on. All
// state lives in process memory; nothing survives the process.
func Open(cfg Config) (*sql.DB, error) {
	name := cfg.Name
	if name == "" {
		name = "fleetline"
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A cache=shared memory database disappears when its last connection
	// closes; a single connection also serializes all writers.
	conn.SetMaxOpenConns(1)
	return conn, nil
}
