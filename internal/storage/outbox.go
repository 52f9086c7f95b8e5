package storage

import (
	"context"
	"fmt"
	"time"
)

const pendingColumns = `id, user_id, identity, kind, server_id, guild_id, channel_id, payload,
	attempts, last_error, next_attempt_at, created_at`

// DueDeliveries returns up to limit outbox rows whose next attempt is due,
// oldest first
func (r *Repository) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]PendingDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_deliveries
		 WHERE next_attempt_at <= ?
		 ORDER BY next_attempt_at, id
		 LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	var out []PendingDelivery
	for rows.Next() {
		var (
			d                 PendingDelivery
			nextAt, createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Identity, &d.Kind, &d.ServerID, &d.GuildID, &d.ChannelID,
			&d.Payload, &d.Attempts, &d.LastError, &nextAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending delivery: %w", err)
		}
		d.NextAttemptAt = time.UnixMilli(nextAt).UTC()
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, d)
	}

	return out, rows.Err()
}

// DeleteDelivery removes an outbox row, after delivery or once it is known to
// be a duplicate
func (r *Repository) DeleteDelivery(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_deliveries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete delivery %d: %w", id, err)
	}
	return nil
}

// RescheduleDelivery records a transient failure and the next attempt time
func (r *Repository) RescheduleDelivery(ctx context.Context, id int64, nextAttemptAt time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_deliveries SET attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		reason, nextAttemptAt.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule delivery %d: %w", id, err)
	}
	return nil
}

// FailDelivery moves an outbox row to delivery_failures
func (r *Repository) FailDelivery(ctx context.Context, d PendingDelivery, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail delivery %d: %w", d.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_failures (user_id, identity, kind, server_id, guild_id, channel_id, reason, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Identity, d.Kind, d.ServerID, d.GuildID, d.ChannelID, reason, r.now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert delivery failure: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_deliveries WHERE id = ?`, d.ID); err != nil {
		return fmt.Errorf("delete failed delivery %d: %w", d.ID, err)
	}

	return tx.Commit()
}

// RecentFailures returns the most recent permanent failures
func (r *Repository) RecentFailures(ctx context.Context, limit int) ([]DeliveryFailure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, identity, kind, server_id, guild_id, channel_id, reason, failed_at
		 FROM delivery_failures ORDER BY failed_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []DeliveryFailure
	for rows.Next() {
		var (
			f        DeliveryFailure
			failedAt int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Identity, &f.Kind, &f.ServerID, &f.GuildID, &f.ChannelID,
			&f.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.FailedAt = time.UnixMilli(failedAt).UTC()
		out = append(out, f)
	}

	return out, rows.Err()
}
