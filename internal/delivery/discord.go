package delivery

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Session is the subset of *discordgo.Session the sink uses.
type Session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink delivers through the Discord REST API.
type DiscordSink struct {
	session Session

	mu         sync.Mutex
	dmChannels map[string]string // user id -> DM channel id
}

// NewDiscordSink creates a sink over session.
func NewDiscordSink(session Session) *DiscordSink {
	return &DiscordSink{session: session, dmChannels: make(map[string]string)}
}

// requestOptions binds a call to ctx. A 429 comes back as an error instead of
// the session sleeping out Retry-After.
func requestOptions(ctx context.Context) []discordgo.RequestOption {
	return []discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
	}
}

// SendDirectMessage opens (or reuses) the user's DM channel and posts p.
func (s *DiscordSink) SendDirectMessage(ctx context.Context, userID string, p Payload) Outcome {
	channelID, err := s.dmChannel(ctx, userID)
	if err != nil {
		return Classify(err)
	}
	out := s.SendChannelMessage(ctx, channelID, p)
	if out.Status == Permanent {
		s.forget(userID)
	}
	return out
}

// SendChannelMessage posts p to a guild channel.
func (s *DiscordSink) SendChannelMessage(ctx context.Context, channelID string, p Payload) Outcome {
	_, err := s.session.ChannelMessageSendComplex(channelID, p.MessageSend(), requestOptions(ctx)...)
	return Classify(err)
}

func (s *DiscordSink) dmChannel(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	id, ok := s.dmChannels[userID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := s.session.UserChannelCreate(userID, requestOptions(ctx)...)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.dmChannels[userID] = ch.ID
	s.mu.Unlock()
	return ch.ID, nil
}

func (s *DiscordSink) forget(userID string) {
	s.mu.Lock()
	delete(s.dmChannels, userID)
	s.mu.Unlock()
}
