package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/dnd"
)

// Loader reads subscription, quiet-hours and blocklist rows from the bot's
// tables in the stats database.
type Loader struct {
	db *sql.DB
}

// NewLoader creates a loader.
func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

// State is everything the engine reads from the command layer for one cycle.
type State struct {
	Index *Index
	DND   *dnd.Filter
}

// Load reads the current committed rows and builds the cycle's index and
// quiet-hours filter.
func (l *Loader) Load(ctx context.Context) (State, error) {
	block, err := l.blocklist(ctx)
	if err != nil {
		return State{}, err
	}

	var rows Rows
	if rows.MapAlerts, err = l.mapAlerts(ctx); err != nil {
		return State{}, err
	}
	if rows.RoundResults, err = l.roundResults(ctx); err != nil {
		return State{}, err
	}
	if rows.Watches, err = l.watches(ctx); err != nil {
		return State{}, err
	}

	rules, err := l.dndRules(ctx)
	if err != nil {
		return State{}, err
	}

	return State{Index: NewIndex(rows, block), DND: dnd.NewFilter(rules)}, nil
}

func (l *Loader) mapAlerts(ctx context.Context) ([]MapAlert, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user_id::text, server_name, map_name, players_over,
		       COALESCE(guild_id::text, ''), COALESCE(channel_id::text, '')
		FROM subscriptions
		WHERE is_paused = false`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []MapAlert
	for rows.Next() {
		var (
			a    MapAlert
			over sql.NullInt64
		)
		if err := rows.Scan(&a.UserID, &a.ServerName, &a.MapFilter, &over, &a.Target.GuildID, &a.Target.ChannelID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if over.Valid {
			n := int(over.Int64)
			a.PlayersOver = &n
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Loader) roundResults(ctx context.Context) ([]RoundResult, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user_id::text, server_name,
		       COALESCE(guild_id::text, ''), COALESCE(channel_id::text, '')
		FROM round_result_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("query round result subscriptions: %w", err)
	}
	defer rows.Close()

	var out []RoundResult
	for rows.Next() {
		var r RoundResult
		if err := rows.Scan(&r.UserID, &r.ServerName, &r.Target.GuildID, &r.Target.ChannelID); err != nil {
			return nil, fmt.Errorf("scan round result subscription: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Loader) watches(ctx context.Context) ([]Watch, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT user_id::text, player_name FROM player_watchlist`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.UserID, &w.PlayerName); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// dndRules reads quiet hours. Hours are stored in UTC; weekdays are stored
// Monday=0.
func (l *Loader) dndRules(ctx context.Context) ([]dnd.Rule, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user_id::text, start_hour_utc, end_hour_utc,
		       COALESCE(array_to_string(weekdays_utc, ','), '')
		FROM user_dnd_rules`)
	if err != nil {
		return nil, fmt.Errorf("query dnd rules: %w", err)
	}
	defer rows.Close()

	var out []dnd.Rule
	for rows.Next() {
		var (
			r          dnd.Rule
			start, end int
			days       string
		)
		if err := rows.Scan(&r.UserID, &start, &end, &days); err != nil {
			return nil, fmt.Errorf("scan dnd rule: %w", err)
		}
		r.StartMinute = start * 60
		r.EndMinute = end * 60
		r.Location = time.UTC
		r.Weekdays = parseWeekdays(days)
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseWeekdays ignores values outside 0..6.
func parseWeekdays(s string) map[time.Weekday]bool {
	if s == "" {
		return nil
	}
	out := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || d < 0 || d > 6 {
			continue
		}
		out[dnd.FromMondayZero(d)] = true
	}
	return out
}

func (l *Loader) blocklist(ctx context.Context) (Blocklist, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT entity_type, entity_id::text FROM bot_blocklist`)
	if err != nil {
		return Blocklist{}, fmt.Errorf("query blocklist: %w", err)
	}
	defer rows.Close()

	b := Blocklist{Users: make(map[string]bool), Guilds: make(map[string]bool)}
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return Blocklist{}, fmt.Errorf("scan blocklist: %w", err)
		}
		switch kind {
		case "user":
			b.Users[id] = true
		case "guild":
			b.Guilds[id] = true
		}
	}
	return b, rows.Err()
}
