// Package storage implements the database collaborator: server rows are
// provisioned out of band, and this layer only resolves them and flips
// their online state as heartbeats come and go.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/registry"
)

// Database wraps the master database connection pool.
type Database struct {
	db *sql.DB
}

// Connect opens the connection pool and verifies the server is reachable.
// The connection string is built once, here, from the database config
// section; a failure at startup is fatal to the process.
func Connect(cfg config.Database) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false",
		cfg.Username, cfg.Password, cfg.Hostname, cfg.Port, cfg.MasterDatabase)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().
		Str("host", cfg.Hostname).
		Uint32("port", cfg.Port).
		Str("database", cfg.MasterDatabase).
		Msg("database connected")

	return &Database{db: db}, nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// ResolveServerID looks up the database row for a server by its query
// address. Servers absent from the database resolve to 0 and are never
// inserted here.
func (d *Database) ResolveServerID(ctx context.Context, ip string, queryPort uint16) (int64, error) {
	var id int64
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COALESCE(id,0), COUNT(id) FROM server WHERE ip=? AND queryport=?",
		ip, queryPort,
	).Scan(&id, &count)
	if err != nil {
		return 0, fmt.Errorf("server id lookup for %s:%d failed: %w", ip, queryPort, err)
	}
	if count == 0 {
		return 0, nil
	}
	return id, nil
}

// MarkOnline flips a resolved server row online and refreshes its
// advertised name and game port.
func (d *Database) MarkOnline(ctx context.Context, id int64, gamePort uint16, name string, lastSeen int64) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE server SET online=1, gameport=?, name=?, lastseen=? WHERE id=?",
		gamePort, TruncateName(name), lastSeen, id,
	)
	if err != nil {
		return fmt.Errorf("mark online for server %d failed: %w", id, err)
	}
	return nil
}

// MarkOffline flips a resolved server row offline.
func (d *Database) MarkOffline(ctx context.Context, id int64, lastSeen int64) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE server SET online=0, lastseen=? WHERE id=?",
		lastSeen, id,
	)
	if err != nil {
		return fmt.Errorf("mark offline for server %d failed: %w", id, err)
	}
	return nil
}

// TruncateName bounds a server name to the column width.
func TruncateName(name string) string {
	if len(name) > registry.MaxServerNameLen {
		return name[:registry.MaxServerNameLen]
	}
	return name
}
