package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
)

// FakeSession records Discord calls and returns scripted errors.
type FakeSession struct {
	mu            sync.Mutex
	createCalls   int
	sent          map[string][]*discordgo.MessageSend
	createErr     error
	sendErrByChan map[string]error
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		sent:          make(map[string][]*discordgo.MessageSend),
		sendErrByChan: make(map[string]error),
	}
}

func (f *FakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *FakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrByChan[channelID]; err != nil {
		return nil, err
	}
	f.sent[channelID] = append(f.sent[channelID], data)
	return &discordgo.Message{ChannelID: channelID}, nil
}

// FakeSink returns scripted outcomes keyed by user (DM) or channel id and
// tracks peak concurrency.
type FakeSink struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	delay    time.Duration
	calls    []string

	inFlight atomic.Int32
	peak     atomic.Int32
}

func NewFakeSink() *FakeSink {
	return &FakeSink{outcomes: make(map[string]Outcome)}
}

func (f *FakeSink) send(ctx context.Context, key string) Outcome {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Classify(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if out, ok := f.outcomes[key]; ok {
		return out
	}
	return Outcome{Status: Delivered}
}

func (f *FakeSink) SendDirectMessage(ctx context.Context, userID string, _ Payload) Outcome {
	return f.send(ctx, "user:"+userID)
}

func (f *FakeSink) SendChannelMessage(ctx context.Context, channelID string, _ Payload) Outcome {
	return f.send(ctx, "channel:"+channelID)
}

func (f *FakeSink) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
