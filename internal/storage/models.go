package storage

import (
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// PlayerSighting records the last time a player was seen on a server
type PlayerSighting struct {
	PlayerName string
	ServerID   string
	LastSeen   time.Time
}

// PendingDelivery is one queued notification in the outbox
type PendingDelivery struct {
	ID            int64
	UserID        string
	Identity      string // transition identity, the dedup key together with UserID
	Kind          string
	ServerID      string
	GuildID       string
	ChannelID     string // empty for direct messages
	Payload       []byte
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// IsDirect reports whether the delivery targets the user's DMs
func (d PendingDelivery) IsDirect() bool {
	return d.ChannelID == ""
}

// DeliveryFailure is a permanently failed delivery kept for operators
type DeliveryFailure struct {
	ID        int64
	UserID    string
	Identity  string
	Kind      string
	ServerID  string
	GuildID   string
	ChannelID string
	Reason    string
	FailedAt  time.Time
}

// ServerCommit is everything one server's detection produced in a cycle.
// It is written in a single transaction.
type ServerCommit struct {
	Watermark  transition.Watermark
	Sightings  []PlayerSighting
	Deliveries []PendingDelivery
}

// Stats summarises table sizes for the status endpoint
type Stats struct {
	Watermarks      int64
	PendingOutbox   int64
	DeliveryRecords int64
	Failures        int64
}
