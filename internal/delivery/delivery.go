// Package delivery sends rendered notifications to Discord and classifies
// each attempt as delivered, transient or permanent.
package delivery

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Payload is a rendered notification. It is stored in the outbox as JSON, so
// it must stay serialisable.
type Payload struct {
	// Content is a plain text line shown in push notifications.
	Content string                  `json:"content,omitempty"`
	Embed   *discordgo.MessageEmbed `json:"embed,omitempty"`
}

// MessageSend converts the payload for the Discord API.
func (p Payload) MessageSend() *discordgo.MessageSend {
	m := &discordgo.MessageSend{Content: p.Content}
	if p.Embed != nil {
		m.Embeds = []*discordgo.MessageEmbed{p.Embed}
	}
	return m
}

// Status is the result class of one delivery attempt.
type Status int

const (
	Delivered Status = iota
	Transient
	Permanent
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Sink delivers payloads. Implementations never return a bare error; every
// failure is classified into the Outcome.
type Sink interface {
	SendDirectMessage(ctx context.Context, userID string, p Payload) Outcome
	SendChannelMessage(ctx context.Context, channelID string, p Payload) Outcome
}
