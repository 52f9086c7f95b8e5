package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/render"
)

// dryRunSink prints payloads and reports them as not dispatched, so the
// outbox keeps them for a real run.
type dryRunSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newDryRunSink(out io.Writer) *dryRunSink {
	if out == nil {
		out = os.Stdout
	}
	return &dryRunSink{out: out}
}

func (s *dryRunSink) SendDirectMessage(_ context.Context, userID string, p delivery.Payload) delivery.Outcome {
	return s.print("dm "+userID, p)
}

func (s *dryRunSink) SendChannelMessage(_ context.Context, channelID string, p delivery.Payload) delivery.Outcome {
	return s.print("channel "+channelID, p)
}

func (s *dryRunSink) print(target string, p delivery.Payload) delivery.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "--- %s\n%s\n", target, render.Describe(p))
	return delivery.Outcome{Status: delivery.Transient, Reason: "dry run", Err: delivery.ErrNotDispatched}
}
