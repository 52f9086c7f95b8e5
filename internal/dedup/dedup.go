// Package dedup records which (user, transition identity) pairs were already
// delivered so a re-derived transition is never sent twice.
package dedup

import (
	"context"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/storage"
)

// Guard is the durable delivered-set. Presence of a pair is proof the user was
// notified for that exact transition.
type Guard interface {
	AlreadySent(ctx context.Context, userID, identity string) (bool, error)
	RecordSent(ctx context.Context, userID, identity string, at time.Time) error
}

var (
	_ Guard = (*storage.Repository)(nil)
	_ Guard = (*RedisGuard)(nil)
)
