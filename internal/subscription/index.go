package subscription

import (
	"sort"
	"strings"

	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
)

// Index is an immutable lookup structure built once per cycle. It is safe for
// concurrent use.
type Index struct {
	mapAlerts    map[string]map[string][]MapAlert // server -> map filter -> alerts
	roundResults map[string][]RoundResult
	watches      map[string][]Watch // folded player name -> watches
	size         int
}

// NewIndex builds an index from rows. Paused map alerts and anything owned by
// a blocked user or routed to a blocked guild are dropped here, so matching
// never sees them.
func NewIndex(rows Rows, block Blocklist) *Index {
	idx := &Index{
		mapAlerts:    make(map[string]map[string][]MapAlert),
		roundResults: make(map[string][]RoundResult),
		watches:      make(map[string][]Watch),
	}

	for _, a := range rows.MapAlerts {
		if a.Paused || block.blocks(a.UserID, a.Target) {
			continue
		}
		filter := a.MapFilter
		if filter != AnyMap {
			filter = strings.ToLower(filter)
			a.MapFilter = filter
		}
		byMap, ok := idx.mapAlerts[a.ServerName]
		if !ok {
			byMap = make(map[string][]MapAlert)
			idx.mapAlerts[a.ServerName] = byMap
		}
		byMap[filter] = append(byMap[filter], a)
		idx.size++
	}

	for _, r := range rows.RoundResults {
		if block.blocks(r.UserID, r.Target) {
			continue
		}
		idx.roundResults[r.ServerName] = append(idx.roundResults[r.ServerName], r)
		idx.size++
	}

	for _, w := range rows.Watches {
		if block.Users[w.UserID] || w.PlayerName == "" {
			continue
		}
		key := snapshot.FoldName(w.PlayerName)
		idx.watches[key] = append(idx.watches[key], w)
		idx.size++
	}

	return idx
}

// Len returns the number of indexed subscriptions of all kinds.
func (idx *Index) Len() int {
	return idx.size
}

// MatchMapAlert returns the alerts for server whose filter is AnyMap or equals
// mapName ignoring case, and whose player threshold is met. A user with both
// a map-specific and a server-wide alert gets one match, the map-specific one.
// Results are ordered by user id.
func (idx *Index) MatchMapAlert(server, mapName string, players int) []MapAlert {
	byMap, ok := idx.mapAlerts[server]
	if !ok || mapName == "" {
		return nil
	}

	chosen := make(map[string]MapAlert)
	consider := func(alerts []MapAlert) {
		for _, a := range alerts {
			if a.PlayersOver != nil && players <= *a.PlayersOver {
				continue
			}
			if prev, ok := chosen[a.UserID]; ok && !prev.Any() {
				continue
			}
			chosen[a.UserID] = a
		}
	}
	consider(byMap[AnyMap])
	consider(byMap[strings.ToLower(mapName)])

	out := make([]MapAlert, 0, len(chosen))
	for _, a := range chosen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MatchRoundResult returns the round-result subscriptions for server.
func (idx *Index) MatchRoundResult(server string) []RoundResult {
	return idx.roundResults[server]
}

// MatchWatch returns the watches on playerName, compared case-insensitively.
func (idx *Index) MatchWatch(playerName string) []Watch {
	return idx.watches[snapshot.FoldName(playerName)]
}
