// Package transition turns successive server snapshots into the state changes
// users subscribe to: map changes, round ends and watched players joining.
//
// Detection is a pure function of the stored watermark, the fresh snapshot and
// the player presence seen on the previous cycle. Nothing here performs I/O.
package transition

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
)

// Kind identifies the type of a transition.
type Kind string

const (
	KindMapChanged   Kind = "map_changed"
	KindRoundEnded   Kind = "round_ended"
	KindPlayerJoined Kind = "player_joined"
)

// identityDomain versions the identity hash so the scheme can change without
// colliding with previously recorded deliveries.
const identityDomain = "bf1942-alert/transition/v1"

// Transition is a detected, semantically meaningful state change.
//
// Kind selects which fields are meaningful:
//   - KindMapChanged: OldMap, NewMap, RoundID (the new round)
//   - KindRoundEnded: RoundID (the round that finished)
//   - KindPlayerJoined: PlayerName, Bucket
//
// Snapshot is the server state the transition was derived from.
type Transition struct {
	Kind       Kind
	ServerID   string
	OldMap     string
	NewMap     string
	RoundID    int64
	PlayerName string
	Bucket     time.Time
	Snapshot   snapshot.Server
}

// Identity returns a stable, content-addressed key for the transition. Two
// detections of the same event produce the same identity, which is what the
// dedup guard keys on.
func (t Transition) Identity() string {
	var discriminator string
	switch t.Kind {
	case KindMapChanged:
		discriminator = strconv.FormatInt(t.RoundID, 10) + "\x1f" + t.NewMap
	case KindRoundEnded:
		discriminator = strconv.FormatInt(t.RoundID, 10)
	case KindPlayerJoined:
		discriminator = snapshot.FoldName(t.PlayerName) + "\x1f" + strconv.FormatInt(t.Bucket.Unix(), 10)
	}

	h := sha256.New()
	h.Write([]byte(identityDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(t.ServerID))
	h.Write([]byte{0x1f})
	h.Write([]byte(t.Kind))
	h.Write([]byte{0x1f})
	h.Write([]byte(discriminator))
	return hex.EncodeToString(h.Sum(nil))
}

// Watermark is the durable "last seen state" of one server.
type Watermark struct {
	ServerID   string
	Map        string
	RoundID    int64
	RoundEnded bool
	UpdatedAt  time.Time
}
