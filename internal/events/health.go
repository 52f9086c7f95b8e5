package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

const healthQueueSize = 64

// HealthNotifier posts operator-facing failures to a Discord webhook. Events
// are queued and posted from a background loop so a slow webhook never
// stalls a cycle; when the queue is full new events are dropped.
type HealthNotifier struct {
	webhookURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	queue      chan Event

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHealthNotifier creates a notifier for webhookURL
func NewHealthNotifier(webhookURL string) *HealthNotifier {
	return &HealthNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Discord allows roughly 30 webhook posts per minute
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 5),
		queue:    make(chan Event, healthQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Emit queues events that need operator attention and ignores the rest
func (h *HealthNotifier) Emit(_ context.Context, e Event) {
	if !needsAttention(e) {
		return
	}
	select {
	case h.queue <- e:
	default:
		slog.Warn("Health queue full, dropping event", "type", e.Type)
	}
}

func needsAttention(e Event) bool {
	switch e.Type {
	case CycleFailed, PersistenceFailed, DeliveryExpired:
		return true
	case DeliveryOutcome:
		return e.Status == "permanent"
	}
	return false
}

// Start launches the posting loop, which runs until ctx is cancelled or Stop
// is called
func (h *HealthNotifier) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

func (h *HealthNotifier) run(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case e := <-h.queue:
			if err := h.post(ctx, e); err != nil {
				slog.Error("Failed to post health event", "type", e.Type, "error", err)
			}
		}
	}
}

// Stop signals the loop to exit and waits for it
func (h *HealthNotifier) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()
}

func (h *HealthNotifier) post(ctx context.Context, e Event) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(&discordgo.WebhookParams{
		Username:   "BF1942 Alert Engine",
		Embeds:     []*discordgo.MessageEmbed{healthEmbed(e)},
		Components: []discordgo.MessageComponent{},
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook body: %w", err)
	}

	resp, err := h.doRequest(ctx, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// doRequest posts body, retrying once after a 429
func (h *HealthNotifier) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return h.httpClient.Do(req)
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		select {
		case <-time.After(1 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return send()
	}

	return resp, nil
}

func healthEmbed(e Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "Alert engine: " + string(e.Type),
		Color:     0xE74C3C,
		Timestamp: e.At.UTC().Format(time.RFC3339),
	}
	if e.Reason != "" {
		embed.Description = e.Reason
	}
	add := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true})
		}
	}
	add("Server", e.ServerID)
	add("Kind", e.Kind)
	add("User", e.UserID)
	add("Target", e.Target)
	return embed
}
