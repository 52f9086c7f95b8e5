package transition

// Presence is the rolling per-server set of active player names seen on the
// previous cycle. It is owned by the cycle driver and is not safe for
// concurrent use.
type Presence struct {
	servers map[string]map[string]struct{}
}

// NewPresence returns an empty presence set.
func NewPresence() *Presence {
	return &Presence{servers: make(map[string]map[string]struct{})}
}

// Seed records players known to be on a server, typically restored from
// persisted sightings at startup.
func (p *Presence) Seed(serverID string, names ...string) {
	set, ok := p.servers[serverID]
	if !ok {
		set = make(map[string]struct{}, len(names))
		p.servers[serverID] = set
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
}

// Players returns the previous set for a server, or nil if the server has no
// recorded presence.
func (p *Presence) Players(serverID string) map[string]struct{} {
	return p.servers[serverID]
}

// Replace rebuilds presence from the servers observed this cycle. A known
// server missing from observed keeps an empty set, so everyone on it when it
// returns counts as joined.
func (p *Presence) Replace(observed map[string]map[string]struct{}) {
	servers := make(map[string]map[string]struct{}, max(len(observed), len(p.servers)))
	for id := range p.servers {
		servers[id] = map[string]struct{}{}
	}
	for id, set := range observed {
		servers[id] = set
	}
	p.servers = servers
}

// Len returns the number of servers with recorded presence.
func (p *Presence) Len() int {
	return len(p.servers)
}
