package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotUnavailable aborts a cycle before any write.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrSubscriptionsUnavailable aborts a cycle before any write; advancing
	// watermarks without matching would drop notifications.
	ErrSubscriptionsUnavailable = errors.New("subscriptions unavailable")
)

// DetectionError means one server's snapshot could not be processed. The
// server is skipped for the cycle.
type DetectionError struct {
	ServerID string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect %s: %v", e.ServerID, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// PersistenceError means engine state could not be written. For a server
// commit, nothing from that server's cycle took effect.
type PersistenceError struct {
	ServerID string
	Op       string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ServerID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
