package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// Watch renders watched-player join notifications
type Watch struct{}

func (Watch) Kind() transition.Kind { return transition.KindPlayerJoined }
func (Watch) Name() string          { return "Watchlist alert" }

func (Watch) Render(in Input) (delivery.Payload, error) {
	t := in.Transition
	if t.PlayerName == "" {
		return delivery.Payload{}, errors.New("player join without a player name")
	}
	snap := t.Snapshot

	embed := &discordgo.MessageEmbed{
		Title:       "Watchlist Alert",
		Description: fmt.Sprintf("**%s** just joined **%s**!", t.PlayerName, t.ServerID),
		Color:       colorMagenta,
		Timestamp:   snap.ObservedAt.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			field("Map", orNA(snap.Map), true),
			field("Players", fmt.Sprintf("%d/%d", snap.PlayerCount, snap.MaxPlayers), true),
			field("Gametype", orNA(snap.Gametype), true),
		},
	}

	return delivery.Payload{
		Content: fmt.Sprintf("Watchlist: %s joined %s", t.PlayerName, t.ServerID),
		Embed:   embed,
	}, nil
}
