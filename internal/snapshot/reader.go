package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// topPlayersLimit is the number of players listed in round summaries.
const topPlayersLimit = 3

// Reader queries the stats store.
type Reader struct {
	db  *sql.DB
	now func() time.Time
}

// NewReader creates a Reader over an open stats store connection.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db, now: time.Now}
}

// ReadServers returns every ACTIVE or EMPTY server along with its latest
// round and, for ACTIVE servers, the live player list.
func (r *Reader) ReadServers(ctx context.Context) ([]Server, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.ip, s.port, s.current_server_name,
		       COALESCE(s.current_map, ''), COALESCE(s.current_gametype, ''),
		       COALESCE(s.current_player_count, 0), COALESCE(s.current_max_players, 0),
		       s.current_state,
		       COALESCE(r.round_id, 0), COALESCE(r.end_time IS NOT NULL, false)
		FROM servers s
		LEFT JOIN LATERAL (
			SELECT round_id, end_time
			FROM rounds
			WHERE server_id = s.server_id
			ORDER BY round_id DESC
			LIMIT 1
		) r ON true
		WHERE s.current_state IN ('ACTIVE', 'EMPTY')`)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	observedAt := r.now().UTC()
	var servers []Server
	byAddr := make(map[string]int)
	for rows.Next() {
		var s Server
		var name sql.NullString
		if err := rows.Scan(
			&s.IP, &s.Port, &name, &s.Map, &s.Gametype,
			&s.PlayerCount, &s.MaxPlayers, &s.State,
			&s.RoundID, &s.RoundEnded,
		); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		s.ID = name.String
		s.ObservedAt = observedAt
		byAddr[addrKey(s.IP, s.Port)] = len(servers)
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}

	if err := r.attachPlayers(ctx, servers, byAddr); err != nil {
		return nil, err
	}
	return servers, nil
}

func (r *Reader) attachPlayers(ctx context.Context, servers []Server, byAddr map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lps.server_ip, lps.server_port, lps.player_name,
		       COALESCE(lps.score, 0), COALESCE(lps.kills, 0), COALESCE(lps.deaths, 0),
		       COALESCE(lps.ping, 0), COALESCE(lps.team, 0)
		FROM live_player_snapshot lps
		JOIN servers s ON lps.server_ip = s.ip AND lps.server_port = s.port
		WHERE s.current_state = 'ACTIVE'`)
	if err != nil {
		return fmt.Errorf("query live players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ip string
		var port int
		var p Player
		if err := rows.Scan(&ip, &port, &p.Name, &p.Score, &p.Kills, &p.Deaths, &p.Ping, &p.Team); err != nil {
			return fmt.Errorf("scan live player: %w", err)
		}
		idx, ok := byAddr[addrKey(ip, port)]
		if !ok || p.Name == "" {
			continue
		}
		servers[idx].Players = append(servers[idx].Players, p)
	}
	return rows.Err()
}

// RoundSummary loads a completed round with its top players.
// Returns nil, nil when the round does not exist or has not ended.
func (r *Reader) RoundSummary(ctx context.Context, roundID int64) (*RoundSummary, error) {
	var rs RoundSummary
	var durationSeconds sql.NullInt64
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT r.round_id, sv.current_server_name, r.map_name,
		       COALESCE(r.winner_team, 0), r.duration_seconds, r.end_time
		FROM rounds r
		JOIN servers sv ON r.server_id = sv.server_id
		WHERE r.round_id = $1 AND r.end_time IS NOT NULL`,
		roundID,
	).Scan(&rs.RoundID, &rs.ServerID, &rs.Map, &rs.WinnerTeam, &durationSeconds, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query round %d: %w", roundID, err)
	}
	rs.Duration = time.Duration(durationSeconds.Int64) * time.Second
	rs.EndedAt = endedAt.Time

	top, err := r.topPlayers(ctx, roundID)
	if err != nil {
		return nil, err
	}
	rs.TopPlayers = top
	return &rs, nil
}

// LastCompletedRound returns the most recently finished round on a server,
// or nil when the server has none.
func (r *Reader) LastCompletedRound(ctx context.Context, serverID string) (*RoundSummary, error) {
	var rs RoundSummary
	var durationSeconds sql.NullInt64
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT r.round_id, r.map_name, COALESCE(r.winner_team, 0), r.duration_seconds, r.end_time
		FROM rounds r
		JOIN servers sv ON r.server_id = sv.server_id
		WHERE sv.current_server_name = $1 AND r.end_time IS NOT NULL
		ORDER BY r.end_time DESC
		LIMIT 1`,
		serverID,
	).Scan(&rs.RoundID, &rs.Map, &rs.WinnerTeam, &durationSeconds, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last round for %s: %w", serverID, err)
	}
	rs.ServerID = serverID
	rs.Duration = time.Duration(durationSeconds.Int64) * time.Second
	rs.EndedAt = endedAt.Time
	return &rs, nil
}

func (r *Reader) topPlayers(ctx context.Context, roundID int64) ([]TopPlayer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.canonical_name, COALESCE(rps.final_score, 0), COALESCE(rps.final_kills, 0),
		       COALESCE(rps.final_deaths, 0), COALESCE(rps.team, 0)
		FROM round_player_stats rps
		JOIN players p ON rps.player_id = p.player_id
		WHERE rps.round_id = $1
		ORDER BY rps.final_score DESC
		LIMIT $2`,
		roundID, topPlayersLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top players for round %d: %w", roundID, err)
	}
	defer rows.Close()

	var top []TopPlayer
	for rows.Next() {
		var p TopPlayer
		if err := rows.Scan(&p.Name, &p.Score, &p.Kills, &p.Deaths, &p.Team); err != nil {
			return nil, fmt.Errorf("scan top player: %w", err)
		}
		top = append(top, p)
	}
	return top, rows.Err()
}

func addrKey(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
