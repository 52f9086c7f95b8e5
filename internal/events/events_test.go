package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, Nop{}, b}.Emit(context.Background(), Event{Type: Matched})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogEmitter(logger).Emit(context.Background(), Event{
		Type:     DeliveryOutcome,
		ServerID: "S1",
		UserID:   "42",
		Status:   "transient",
		Reason:   "rate limited",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "delivery_outcome", line["msg"])
	assert.Equal(t, "S1", line["server"])
	assert.Equal(t, "rate limited", line["reason"])
	assert.NotContains(t, line, "kind")
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaEmitter(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaEmitter(w)

	k.Emit(context.Background(), Event{Type: TransitionDetected, At: eventTime, ServerID: "S1", Kind: "map_changed"})
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("S1"), msg.Key)
	assert.Equal(t, eventTime, msg.Time)
	assert.Equal(t, "type", msg.Headers[0].Key)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, TransitionDetected, got.Type)
	assert.Equal(t, "map_changed", got.Kind)

	// Publish errors are swallowed.
	w.err = errors.New("broker down")
	k.Emit(context.Background(), Event{Type: Matched})
	assert.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaWriter_Validation(t *testing.T) {
	_, err := NewKafkaWriter("", "topic")
	assert.Error(t, err)
	_, err = NewKafkaWriter("localhost:9092", "")
	assert.Error(t, err)

	w, err := NewKafkaWriter("a:9092, b:9092", "bf1942.alert-events")
	require.NoError(t, err)
	assert.Equal(t, "bf1942.alert-events", w.Topic)
	assert.True(t, w.Async)
}

func TestMetricsEmitter(t *testing.T) {
	m := MetricsEmitter{}
	ctx := context.Background()

	before := testutil.ToFloat64(deliveriesTotal.WithLabelValues("permanent"))
	m.Emit(ctx, Event{Type: DeliveryOutcome, Status: "permanent"})
	m.Emit(ctx, Event{Type: DeliveryOutcome, Status: "permanent"})
	assert.Equal(t, before+2, testutil.ToFloat64(deliveriesTotal.WithLabelValues("permanent")))

	beforeDND := testutil.ToFloat64(suppressedTotal.WithLabelValues("dnd"))
	m.Emit(ctx, Event{Type: Suppressed})
	assert.Equal(t, beforeDND+1, testutil.ToFloat64(suppressedTotal.WithLabelValues("dnd")))

	beforeQueued := testutil.ToFloat64(outboxQueued)
	m.Emit(ctx, Event{Type: Queued, Count: 3})
	assert.Equal(t, beforeQueued+3, testutil.ToFloat64(outboxQueued))
}

func TestHealthNotifier(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []discordgo.WebhookParams
		calls  atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var p discordgo.WebhookParams
		_ = json.Unmarshal(data, &p)
		mu.Lock()
		bodies = append(bodies, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewHealthNotifier(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Emit(ctx, Event{Type: Matched})
	h.Emit(ctx, Event{Type: DeliveryOutcome, Status: "delivered"})
	h.Emit(ctx, Event{Type: DeliveryOutcome, Status: "permanent", At: eventTime, UserID: "42", Reason: "Cannot send messages to this user"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 5*time.Second, 20*time.Millisecond)

	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies[0].Embeds, 1)
	embed := bodies[0].Embeds[0]
	assert.Equal(t, "Alert engine: delivery_outcome", embed.Title)
	assert.Equal(t, "Cannot send messages to this user", embed.Description)
	assert.Equal(t, 0xE74C3C, embed.Color)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNeedsAttention(t *testing.T) {
	assert.True(t, needsAttention(Event{Type: CycleFailed}))
	assert.True(t, needsAttention(Event{Type: DeliveryExpired}))
	assert.False(t, needsAttention(Event{Type: DeliveryOutcome, Status: "transient"}))
	assert.False(t, needsAttention(Event{Type: TransitionDetected}))
}
