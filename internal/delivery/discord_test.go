package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectTransport sends every request to target, keeping the path.
type redirectTransport struct {
	target *url.URL
}

func (t redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	req.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

// rateLimitedSession returns a real session whose REST calls all get a 429
// asking for a long wait.
func rateLimitedSession(t *testing.T) (*discordgo.Session, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":30,"global":false}`))
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	session, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	session.Client = &http.Client{Transport: redirectTransport{target: target}, Timeout: 5 * time.Second}
	return session, &hits
}

func TestDiscordSink_RateLimitedChannelMessage(t *testing.T) {
	session, hits := rateLimitedSession(t)
	sink := NewDiscordSink(session)

	start := time.Now()
	out := sink.SendChannelMessage(context.Background(), "C1", Payload{Content: "hello"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Transient, out.Status)
	assert.Equal(t, "rate limited", out.Reason)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDiscordSink_RateLimitedDirectMessage(t *testing.T) {
	session, hits := rateLimitedSession(t)
	sink := NewDiscordSink(session)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	out := sink.SendDirectMessage(ctx, "U1", Payload{Content: "hello"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Transient, out.Status)
	assert.Equal(t, int32(1), hits.Load())
}
