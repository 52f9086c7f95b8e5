package render

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// MapAlert renders map change notifications
type MapAlert struct{}

func (MapAlert) Kind() transition.Kind { return transition.KindMapChanged }
func (MapAlert) Name() string          { return "Map alert" }

// Render builds the alert. Server-wide subscribers get a server-centric
// message, map subscribers a map-centric one.
func (MapAlert) Render(in Input) (delivery.Payload, error) {
	t := in.Transition
	snap := t.Snapshot

	embed := &discordgo.MessageEmbed{
		Color:     colorGold,
		Timestamp: snap.ObservedAt.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			field("Players", fmt.Sprintf("%d/%d", snap.PlayerCount, snap.MaxPlayers), true),
		},
	}

	var content string
	if in.ServerWide {
		embed.Title = "BF1942 Server Alert!"
		embed.Description = fmt.Sprintf("**%s** has just changed maps to **%s**!", t.ServerID, t.NewMap)
		content = fmt.Sprintf("%s changed map to %s", t.ServerID, t.NewMap)
	} else {
		embed.Title = "BF1942 Map Alert!"
		embed.Description = fmt.Sprintf("The map **%s** has just started on **%s**!", t.NewMap, t.ServerID)
		content = fmt.Sprintf("Map %s started on %s", t.NewMap, t.ServerID)
	}

	if snap.Gametype != "" {
		embed.Fields = append(embed.Fields, field("Gametype", snap.Gametype, true))
	}

	if prev := in.PreviousRound; prev != nil {
		embed.Fields = append(embed.Fields, field("Previous Round",
			fmt.Sprintf("%s - Winner: **%s** (%dm)", orNA(prev.Map), prev.Winner(), int(prev.Duration.Minutes())),
			false))
	}

	return delivery.Payload{Content: content, Embed: embed}, nil
}
