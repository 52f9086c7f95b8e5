// Package snapshot reads live server, round and player state from the stats
// store. It is read-only: nothing in this package mutates the store.
package snapshot

import (
	"time"

	"golang.org/x/text/cases"
)

// Server state values reported by the stats collector.
const (
	StateActive = "ACTIVE"
	StateEmpty  = "EMPTY"
)

// Server is a point-in-time read of one game server.
type Server struct {
	ID          string // current server name; subscriptions reference servers by name
	IP          string
	Port        int
	Map         string
	Gametype    string
	PlayerCount int
	MaxPlayers  int
	State       string
	RoundID     int64 // 0 when the store has no round for this server yet
	RoundEnded  bool
	Players     []Player
	ObservedAt  time.Time
}

// PlayerNames returns the names of the active players on the server.
func (s Server) PlayerNames() []string {
	names := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		names = append(names, p.Name)
	}
	return names
}

// Player is one row of the live player snapshot.
type Player struct {
	Name   string
	Score  int
	Kills  int
	Deaths int
	Ping   int
	Team   int
}

// Team numbers as recorded by the stats collector.
const (
	TeamAxis   = 1
	TeamAllies = 2
)

// RoundSummary describes a completed round, used to enrich alerts.
type RoundSummary struct {
	RoundID    int64
	ServerID   string
	Map        string
	WinnerTeam int
	Duration   time.Duration
	EndedAt    time.Time
	TopPlayers []TopPlayer
}

// Winner returns the display name of the winning side.
func (r RoundSummary) Winner() string {
	switch r.WinnerTeam {
	case TeamAxis:
		return "Axis"
	case TeamAllies:
		return "Allies"
	default:
		return "Draw"
	}
}

// TopPlayer is one entry of a round's top-3 list.
type TopPlayer struct {
	Name   string
	Score  int
	Kills  int
	Deaths int
	Team   int
}

// FoldName returns the case-folded form of a player name, used wherever
// player names are compared without regard to case.
func FoldName(name string) string {
	return cases.Fold().String(name)
}
