package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// Repository handles all engine-owned state: watermarks, player sightings,
// delivery records and the delivery outbox
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// contending with each other.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, now: time.Now}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the database schema. Timestamps are unix milliseconds so
// range comparisons are numeric.
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS server_watermarks (
			server_id TEXT PRIMARY KEY,
			map_name TEXT NOT NULL DEFAULT '',
			round_id INTEGER NOT NULL DEFAULT 0,
			round_ended INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS player_sightings (
			player_name TEXT NOT NULL,
			server_id TEXT NOT NULL,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (player_name, server_id)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_records (
			user_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			delivered_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			kind TEXT NOT NULL,
			server_id TEXT NOT NULL,
			guild_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(user_id, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			kind TEXT NOT NULL,
			server_id TEXT NOT NULL,
			guild_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_last_seen ON player_sightings(last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_records_delivered_at ON delivery_records(delivered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_next_attempt ON pending_deliveries(next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_failed_at ON delivery_failures(failed_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Watermark operations

// Watermarks returns the stored watermark of every server, keyed by server id
func (r *Repository) Watermarks(ctx context.Context) (map[string]transition.Watermark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT server_id, map_name, round_id, round_ended, updated_at FROM server_watermarks`,
	)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]transition.Watermark)
	for rows.Next() {
		var (
			wm        transition.Watermark
			updatedAt int64
		)
		if err := rows.Scan(&wm.ServerID, &wm.Map, &wm.RoundID, &wm.RoundEnded, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		wm.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out[wm.ServerID] = wm
	}

	return out, rows.Err()
}

// CommitServer writes one server's cycle outcome atomically: queued
// deliveries, player sightings and the advanced watermark. It returns the
// number of deliveries actually queued; rows already in the outbox for the
// same user and identity are left alone.
func (r *Repository) CommitServer(ctx context.Context, c ServerCommit) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit %s: %w", c.Watermark.ServerID, err)
	}
	defer tx.Rollback()

	now := r.now().UnixMilli()
	queued := 0
	for _, d := range c.Deliveries {
		next := d.NextAttemptAt
		if next.IsZero() {
			next = time.UnixMilli(now)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_deliveries
			 (user_id, identity, kind, server_id, guild_id, channel_id, payload, next_attempt_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, identity) DO NOTHING`,
			d.UserID, d.Identity, d.Kind, d.ServerID, d.GuildID, d.ChannelID, d.Payload, next.UnixMilli(), now,
		)
		if err != nil {
			return 0, fmt.Errorf("queue delivery for %s: %w", d.UserID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			queued++
		}
	}

	for _, s := range c.Sightings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_sightings (player_name, server_id, last_seen) VALUES (?, ?, ?)
			 ON CONFLICT(player_name, server_id) DO UPDATE SET last_seen = excluded.last_seen`,
			s.PlayerName, s.ServerID, s.LastSeen.UnixMilli(),
		); err != nil {
			return 0, fmt.Errorf("record sighting %s: %w", s.PlayerName, err)
		}
	}

	wm := c.Watermark
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO server_watermarks (server_id, map_name, round_id, round_ended, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(server_id) DO UPDATE SET
			map_name = excluded.map_name,
			round_id = excluded.round_id,
			round_ended = excluded.round_ended,
			updated_at = excluded.updated_at`,
		wm.ServerID, wm.Map, wm.RoundID, wm.RoundEnded, wm.UpdatedAt.UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("upsert watermark %s: %w", wm.ServerID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", wm.ServerID, err)
	}
	return queued, nil
}

// Player sighting operations

// RecentSightings returns sightings newer than since, used to seed player
// presence after a restart
func (r *Repository) RecentSightings(ctx context.Context, since time.Time) ([]PlayerSighting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT player_name, server_id, last_seen FROM player_sightings WHERE last_seen >= ? ORDER BY server_id, player_name`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []PlayerSighting
	for rows.Next() {
		var (
			s        PlayerSighting
			lastSeen int64
		)
		if err := rows.Scan(&s.PlayerName, &s.ServerID, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		s.LastSeen = time.UnixMilli(lastSeen).UTC()
		sightings = append(sightings, s)
	}

	return sightings, rows.Err()
}

// Delivery record operations

// AlreadySent reports whether the user was already notified for identity
func (r *Repository) AlreadySent(ctx context.Context, userID, identity string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery_records WHERE user_id = ? AND identity = ?`,
		userID, identity,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query delivery record: %w", err)
	}
	return true, nil
}

// RecordSent marks identity as delivered to the user. Recording the same pair
// twice keeps the first timestamp.
func (r *Repository) RecordSent(ctx context.Context, userID, identity string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delivery_records (user_id, identity, delivered_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, identity) DO NOTHING`,
		userID, identity, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Maintenance operations

// Prune deletes delivery records, sightings and failures older than the
// given cutoffs
func (r *Repository) Prune(ctx context.Context, recordsBefore, sightingsBefore, failuresBefore time.Time) (int64, error) {
	statements := []struct {
		query  string
		cutoff time.Time
	}{
		{`DELETE FROM delivery_records WHERE delivered_at < ?`, recordsBefore},
		{`DELETE FROM player_sightings WHERE last_seen < ?`, sightingsBefore},
		{`DELETE FROM delivery_failures WHERE failed_at < ?`, failuresBefore},
	}

	var total int64
	for _, st := range statements {
		res, err := r.db.ExecContext(ctx, st.query, st.cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Stats returns row counts of the engine tables
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM server_watermarks),
			(SELECT COUNT(*) FROM pending_deliveries),
			(SELECT COUNT(*) FROM delivery_records),
			(SELECT COUNT(*) FROM delivery_failures)`,
	).Scan(&s.Watermarks, &s.PendingOutbox, &s.DeliveryRecords, &s.Failures)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return s, nil
}
