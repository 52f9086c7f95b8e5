// Package subscription loads the alert subscriptions written by the command
// layer and indexes them for constant-time matching against transitions.
package subscription

// AnyMap is the map filter of a server-wide subscription.
const AnyMap = "*all*"

// Target is where a notification goes. An empty ChannelID means a direct
// message to the owning user.
type Target struct {
	GuildID   string
	ChannelID string
}

// IsDirect reports whether the target is the user's DMs.
func (t Target) IsDirect() bool {
	return t.ChannelID == ""
}

// MapAlert fires when a server starts a map matching MapFilter.
type MapAlert struct {
	UserID     string
	ServerName string
	MapFilter  string // lowercase map name, or AnyMap
	// PlayersOver, when set, requires the observed player count to be
	// strictly greater.
	PlayersOver *int
	Paused      bool
	Target      Target
}

// Any reports whether the alert matches every map.
func (a MapAlert) Any() bool {
	return a.MapFilter == AnyMap
}

// RoundResult fires when a round ends on ServerName.
type RoundResult struct {
	UserID     string
	ServerName string
	Target     Target
}

// Watch fires when PlayerName joins any server. Watches are delivered by DM.
type Watch struct {
	UserID     string
	PlayerName string
}

// Rows is the raw subscription state read at the start of a cycle.
type Rows struct {
	MapAlerts    []MapAlert
	RoundResults []RoundResult
	Watches      []Watch
}

// Blocklist names users and guilds the bot must not deliver to.
type Blocklist struct {
	Users  map[string]bool
	Guilds map[string]bool
}

func (b Blocklist) blocks(userID string, t Target) bool {
	return b.Users[userID] || (t.GuildID != "" && b.Guilds[t.GuildID])
}
