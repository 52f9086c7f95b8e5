package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// RoundResult renders round completion notifications
type RoundResult struct{}

func (RoundResult) Kind() transition.Kind { return transition.KindRoundEnded }
func (RoundResult) Name() string          { return "Round result" }

// Render builds the result card. Without a round summary only the map from
// the live snapshot is shown.
func (RoundResult) Render(in Input) (delivery.Payload, error) {
	t := in.Transition

	mapName := t.Snapshot.Map
	winner := "Unknown"
	duration := "N/A"
	if r := in.Round; r != nil {
		if r.Map != "" {
			mapName = r.Map
		}
		winner = r.Winner()
		duration = fmt.Sprintf("%dm", int(r.Duration.Minutes()))
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Round Complete!",
		Description: fmt.Sprintf("**%s**", t.ServerID),
		Color:       colorDarkGold,
		Timestamp:   t.Snapshot.ObservedAt.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			field("Map", orNA(mapName), true),
			field("Winner", winner, true),
			field("Duration", duration, true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Round #%d", t.RoundID)},
	}

	if in.Round != nil && len(in.Round.TopPlayers) > 0 {
		lines := make([]string, 0, len(in.Round.TopPlayers))
		for i, p := range in.Round.TopPlayers {
			lines = append(lines, fmt.Sprintf("%d. **%s** - %d pts (%dK/%dD)", i+1, p.Name, p.Score, p.Kills, p.Deaths))
		}
		embed.Fields = append(embed.Fields, field("Top Players", strings.Join(lines, "\n"), false))
	}

	return delivery.Payload{
		Content: fmt.Sprintf("Round ended on %s: %s - %s", t.ServerID, orNA(mapName), winner),
		Embed:   embed,
	}, nil
}
