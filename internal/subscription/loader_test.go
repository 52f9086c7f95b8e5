package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM bot_blocklist`).WillReturnRows(
		sqlmock.NewRows([]string{"entity_type", "entity_id"}).
			AddRow("user", "666").
			AddRow("guild", "777"),
	)
	mock.ExpectQuery(`FROM subscriptions`).WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "server_name", "map_name", "players_over", "guild_id", "channel_id"}).
			AddRow("1", "S1", "berlin", 0, "100", "").
			AddRow("2", "S1", AnyMap, nil, "100", "200").
			AddRow("666", "S1", AnyMap, 0, "", "").
			AddRow("3", "S1", AnyMap, 0, "777", "300"),
	)
	mock.ExpectQuery(`FROM round_result_subscriptions`).WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "server_name", "guild_id", "channel_id"}).
			AddRow("1", "S1", "", ""),
	)
	mock.ExpectQuery(`FROM player_watchlist`).WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "player_name"}).
			AddRow("1", "Foo"),
	)
	mock.ExpectQuery(`FROM user_dnd_rules`).WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "start_hour_utc", "end_hour_utc", "weekdays"}).
			AddRow("1", 23, 7, "0,1,2,3,4,5,6").
			AddRow("2", 9, 17, "5,6,x"),
	)

	state, err := NewLoader(db).Load(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	got := state.Index.MatchMapAlert("S1", "Berlin", 1)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].UserID)
	require.NotNil(t, got[0].PlayersOver)
	assert.Equal(t, 0, *got[0].PlayersOver)
	assert.True(t, got[0].Target.IsDirect())
	assert.Equal(t, "2", got[1].UserID)
	assert.Nil(t, got[1].PlayersOver)
	assert.Equal(t, "200", got[1].Target.ChannelID)

	assert.Len(t, state.Index.MatchRoundResult("S1"), 1)
	assert.Len(t, state.Index.MatchWatch("foo"), 1)

	// Wednesday 03:00 UTC falls in user 1's window.
	wed := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	assert.False(t, state.DND.Allows("1", wed))
	// User 2's rule is weekend-only.
	assert.True(t, state.DND.Allows("2", wed.Add(9*time.Hour)))
	sat := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	assert.False(t, state.DND.Allows("2", sat))
}

func TestLoader_Load_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM bot_blocklist`).WillReturnRows(sqlmock.NewRows([]string{"entity_type", "entity_id"}))
	mock.ExpectQuery(`FROM subscriptions`).WillReturnError(errors.New("relation does not exist"))

	_, err = NewLoader(db).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query subscriptions")
}

func TestParseWeekdays(t *testing.T) {
	assert.Nil(t, parseWeekdays(""))
	got := parseWeekdays("0, 6,9")
	assert.Equal(t, map[time.Weekday]bool{time.Monday: true, time.Sunday: true}, got)
}
