package transition

import (
	"errors"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
)

// ErrMalformedSnapshot is returned when a snapshot cannot be attributed to a
// server. The caller skips that server for the cycle.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Input is everything Detect needs for one server.
type Input struct {
	// Previous is nil when the server has never been observed.
	Previous *Watermark
	Snapshot snapshot.Server
	// PrevPlayers is the presence set from the previous cycle. A nil set means
	// presence is unknown and joins are seeded silently.
	PrevPlayers map[string]struct{}
	// JoinBucket is the width of the time bucket used in player-join
	// identities. Zero disables bucketing.
	JoinBucket time.Duration
	// PreviousRoundEnded reports that the watermark's round has since been
	// completed in the store. It only matters when the snapshot has already
	// moved on to a later round.
	PreviousRoundEnded bool
}

// Result is the outcome of detection for one server.
type Result struct {
	Transitions []Transition
	// Next is the watermark to commit once the transitions are queued.
	Next Watermark
	// Players is the presence set to carry into the next cycle.
	Players map[string]struct{}
}

// Detect compares a fresh snapshot against the stored watermark.
//
// Transitions are ordered: a round ending on the previous round id (either
// observed in place or reported through PreviousRoundEnded), then a map change, then a round ending on the new round id, then player joins in
// snapshot order. A first observation seeds state without emitting map or
// round transitions.
func Detect(in Input) (Result, error) {
	snap := in.Snapshot
	if snap.ID == "" {
		return Result{}, ErrMalformedSnapshot
	}

	res := Result{
		Next:    nextWatermark(in.Previous, snap),
		Players: presenceOf(snap),
	}

	if prev := in.Previous; prev != nil {
		res.Transitions = append(res.Transitions, roundTransitions(prev, snap, in.PreviousRoundEnded)...)
	}

	if in.PrevPlayers != nil {
		bucket := snap.ObservedAt
		if in.JoinBucket > 0 {
			bucket = bucket.Truncate(in.JoinBucket)
		}
		seen := make(map[string]struct{}, len(snap.Players))
		for _, p := range snap.Players {
			if p.Name == "" {
				continue
			}
			if _, dup := seen[p.Name]; dup {
				continue
			}
			seen[p.Name] = struct{}{}
			if _, ok := in.PrevPlayers[p.Name]; ok {
				continue
			}
			res.Transitions = append(res.Transitions, Transition{
				Kind:       KindPlayerJoined,
				ServerID:   snap.ID,
				PlayerName: p.Name,
				Bucket:     bucket,
				Snapshot:   snap,
			})
		}
	}

	return res, nil
}

func roundTransitions(prev *Watermark, snap snapshot.Server, prevEnded bool) []Transition {
	var out []Transition

	// Round id 0 means the store has no round for the server; that is missing
	// data, not a new round.
	roundKnown := snap.RoundID != 0
	sameRound := roundKnown && snap.RoundID == prev.RoundID
	advanced := roundKnown && snap.RoundID > prev.RoundID

	// The watermark's round finished and the next one started between cycles.
	if advanced && prevEnded && prev.RoundID != 0 && !prev.RoundEnded {
		ended := snap
		if prev.Map != "" {
			ended.Map = prev.Map
		}
		out = append(out, Transition{
			Kind:     KindRoundEnded,
			ServerID: snap.ID,
			RoundID:  prev.RoundID,
			Snapshot: ended,
		})
	}

	if sameRound && snap.RoundEnded && !prev.RoundEnded {
		out = append(out, Transition{
			Kind:     KindRoundEnded,
			ServerID: snap.ID,
			RoundID:  snap.RoundID,
			Snapshot: snap,
		})
	}

	mapChanged := snap.Map != "" && prev.Map != "" && snap.Map != prev.Map
	if mapChanged || advanced {
		newMap := snap.Map
		if newMap == "" {
			newMap = prev.Map
		}
		roundID := snap.RoundID
		if !roundKnown {
			roundID = prev.RoundID
		}
		out = append(out, Transition{
			Kind:     KindMapChanged,
			ServerID: snap.ID,
			OldMap:   prev.Map,
			NewMap:   newMap,
			RoundID:  roundID,
			Snapshot: snap,
		})
	}

	// A round that started and finished between two cycles.
	if advanced && snap.RoundEnded {
		out = append(out, Transition{
			Kind:     KindRoundEnded,
			ServerID: snap.ID,
			RoundID:  snap.RoundID,
			Snapshot: snap,
		})
	}

	return out
}

func nextWatermark(prev *Watermark, snap snapshot.Server) Watermark {
	next := Watermark{
		ServerID:   snap.ID,
		Map:        snap.Map,
		RoundID:    snap.RoundID,
		RoundEnded: snap.RoundEnded,
		UpdatedAt:  snap.ObservedAt,
	}
	if prev == nil {
		return next
	}
	if next.Map == "" {
		next.Map = prev.Map
	}
	if snap.RoundID == 0 {
		next.RoundID = prev.RoundID
		next.RoundEnded = prev.RoundEnded
	} else if snap.RoundID == prev.RoundID && prev.RoundEnded {
		// An ended round stays ended.
		next.RoundEnded = true
	}
	return next
}

func presenceOf(snap snapshot.Server) map[string]struct{} {
	names := snap.PlayerNames()
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
