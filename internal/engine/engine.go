// Package engine runs one alerting cycle: read live server state, detect
// transitions against durable watermarks, match subscriptions, apply quiet
// hours and dedup, queue deliveries in the outbox and dispatch them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hootmeow/bf1942-map-alert/internal/dedup"
	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/events"
	"github.com/hootmeow/bf1942-map-alert/internal/render"
	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
	"github.com/hootmeow/bf1942-map-alert/internal/subscription"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// SnapshotReader reads live and historical state from the stats store.
type SnapshotReader interface {
	ReadServers(ctx context.Context) ([]snapshot.Server, error)
	RoundSummary(ctx context.Context, roundID int64) (*snapshot.RoundSummary, error)
	LastCompletedRound(ctx context.Context, serverID string) (*snapshot.RoundSummary, error)
}

// SubscriptionSource loads the command layer's current rows.
type SubscriptionSource interface {
	Load(ctx context.Context) (subscription.State, error)
}

// Store is the engine's durable state.
type Store interface {
	Watermarks(ctx context.Context) (map[string]transition.Watermark, error)
	CommitServer(ctx context.Context, c storage.ServerCommit) (int, error)
	RecentSightings(ctx context.Context, since time.Time) ([]storage.PlayerSighting, error)
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]storage.PendingDelivery, error)
	DeleteDelivery(ctx context.Context, id int64) error
	RescheduleDelivery(ctx context.Context, id int64, nextAttemptAt time.Time, reason string) error
	FailDelivery(ctx context.Context, d storage.PendingDelivery, reason string) error
}

// Dispatcher delivers a batch of jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobs []delivery.Job) []delivery.Result
}

// Deps are the engine's collaborators.
type Deps struct {
	Reader        SnapshotReader
	Subscriptions SubscriptionSource
	Store         Store
	Guard         dedup.Guard
	Renderers     *render.Registry
	Dispatcher    Dispatcher
	Events        events.Emitter
}

// Config tunes the engine.
type Config struct {
	// JoinBucket is the time bucket of player-join identities; a player
	// rejoining within the same bucket is not announced again.
	JoinBucket time.Duration
	// PresenceSeed is how far back persisted sightings seed player presence
	// after a restart.
	PresenceSeed time.Duration
	// IOTimeout bounds every read and write.
	IOTimeout time.Duration
	// MaxAttempts and RetryMaxAge bound retries of a queued delivery.
	MaxAttempts int
	RetryMaxAge time.Duration
	// OutboxBatch caps deliveries dispatched per cycle.
	OutboxBatch int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		JoinBucket:   15 * time.Minute,
		PresenceSeed: 3 * time.Minute,
		IOTimeout:    10 * time.Second,
		MaxAttempts:  5,
		RetryMaxAge:  time.Hour,
		OutboxBatch:  500,
	}
}

// CycleResult summarises one cycle.
type CycleResult struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	Servers     int
	Transitions int
	Matched     int
	Suppressed  int
	AlreadySent int
	Queued      int
	Delivered   int
	Transient   int
	Permanent   int
	Expired     int
	// Errors holds per-server and per-delivery failures that did not abort
	// the cycle.
	Errors []error
}

// Engine runs alerting cycles. RunCycle must not be called concurrently; the
// scheduler serialises calls.
type Engine struct {
	deps     Deps
	cfg      Config
	presence *transition.Presence
	seeded   bool
	now      func() time.Time
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Renderers == nil {
		deps.Renderers = render.DefaultRegistry()
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	if cfg.OutboxBatch <= 0 {
		cfg.OutboxBatch = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		presence: transition.NewPresence(),
		now:      time.Now,
	}
}

func (e *Engine) io(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.IOTimeout)
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.deps.Events.Emit(ctx, ev)
}

// RunCycle performs one full pass. It returns an error only when the cycle
// was aborted before any write; per-server and per-recipient failures are
// reported in CycleResult.Errors.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{ID: uuid.NewString(), StartedAt: e.now()}

	if !e.seeded {
		e.seedPresence(ctx, res.StartedAt)
	}

	readCtx, cancel := e.io(ctx)
	servers, err := e.deps.Reader.ReadServers(readCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
		e.emit(ctx, events.Event{Type: events.CycleFailed, Reason: err.Error()})
		return res, err
	}

	loadCtx, cancel := e.io(ctx)
	state, err := e.deps.Subscriptions.Load(loadCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSubscriptionsUnavailable, err)
		e.emit(ctx, events.Event{Type: events.CycleFailed, Reason: err.Error()})
		return res, err
	}

	wmCtx, cancel := e.io(ctx)
	watermarks, err := e.deps.Store.Watermarks(wmCtx)
	cancel()
	if err != nil {
		err = &PersistenceError{Op: "load watermarks", Err: err}
		e.emit(ctx, events.Event{Type: events.CycleFailed, Reason: err.Error()})
		return res, err
	}

	e.processServers(ctx, servers, watermarks, state, &res)
	e.deliverDue(ctx, &res)

	res.Duration = e.now().Sub(res.StartedAt)
	e.emit(ctx, events.Event{Type: events.CycleCompleted, Count: res.Transitions, Duration: res.Duration})
	return res, nil
}

// seedPresence restores player presence from recent sightings so a restart
// does not announce every player already online.
func (e *Engine) seedPresence(ctx context.Context, now time.Time) {
	seedCtx, cancel := e.io(ctx)
	defer cancel()

	sightings, err := e.deps.Store.RecentSightings(seedCtx, now.Add(-e.cfg.PresenceSeed))
	if err != nil {
		slog.Warn("Failed to seed player presence", "error", err)
		return
	}
	for _, s := range sightings {
		e.presence.Seed(s.ServerID, s.PlayerName)
	}
	e.seeded = true
	slog.Info("Seeded player presence", "servers", e.presence.Len(), "sightings", len(sightings))
}

func (e *Engine) processServers(ctx context.Context, servers []snapshot.Server, watermarks map[string]transition.Watermark, state subscription.State, res *CycleResult) {
	sort.SliceStable(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })

	next := make(map[string]map[string]struct{}, len(servers))
	seen := make(map[string]bool, len(servers))
	keep := func(id string) {
		if prev := e.presence.Players(id); prev != nil {
			next[id] = prev
		}
	}

	for i, snap := range servers {
		if ctx.Err() != nil {
			// Shutdown: leave the remaining servers for the next process.
			for _, rest := range servers[i:] {
				keep(rest.ID)
			}
			break
		}

		if snap.ID != "" && seen[snap.ID] {
			e.detectionFailed(ctx, res, snap.ID, fmt.Errorf("duplicate server name"))
			continue
		}
		seen[snap.ID] = true

		var prev *transition.Watermark
		if wm, ok := watermarks[snap.ID]; ok {
			prev = &wm
		}

		prevEnded, err := e.previousRoundEnded(ctx, prev, snap)
		if err != nil {
			// Retried next cycle: the watermark is not advanced.
			e.detectionFailed(ctx, res, snap.ID, fmt.Errorf("round summary: %w", err))
			keep(snap.ID)
			continue
		}

		det, err := transition.Detect(transition.Input{
			Previous:           prev,
			Snapshot:           snap,
			PrevPlayers:        e.presence.Players(snap.ID),
			JoinBucket:         e.cfg.JoinBucket,
			PreviousRoundEnded: prevEnded,
		})
		if err != nil {
			e.detectionFailed(ctx, res, snap.ID, err)
			keep(snap.ID)
			continue
		}
		res.Servers++

		var deliveries []storage.PendingDelivery
		for _, tr := range det.Transitions {
			res.Transitions++
			e.emit(ctx, events.Event{
				Type:     events.TransitionDetected,
				ServerID: tr.ServerID,
				Kind:     string(tr.Kind),
				Identity: tr.Identity(),
			})
			deliveries = append(deliveries, e.plan(ctx, tr, state, res)...)
		}

		sightings := make([]storage.PlayerSighting, 0, len(det.Players))
		for name := range det.Players {
			sightings = append(sightings, storage.PlayerSighting{PlayerName: name, ServerID: snap.ID, LastSeen: snap.ObservedAt})
		}

		commitCtx, cancel := e.io(context.WithoutCancel(ctx))
		queued, err := e.deps.Store.CommitServer(commitCtx, storage.ServerCommit{
			Watermark:  det.Next,
			Sightings:  sightings,
			Deliveries: deliveries,
		})
		cancel()
		if err != nil {
			perr := &PersistenceError{ServerID: snap.ID, Op: "commit", Err: err}
			res.Errors = append(res.Errors, perr)
			e.emit(ctx, events.Event{Type: events.PersistenceFailed, ServerID: snap.ID, Reason: perr.Error()})
			keep(snap.ID)
			continue
		}

		res.Queued += queued
		if queued > 0 {
			e.emit(ctx, events.Event{Type: events.Queued, ServerID: snap.ID, Count: queued})
		}
		next[snap.ID] = det.Players
	}

	e.presence.Replace(next)
}

// previousRoundEnded reports whether the watermark's unfinished round has
// completed in the store while the server moved on to a later round.
func (e *Engine) previousRoundEnded(ctx context.Context, prev *transition.Watermark, snap snapshot.Server) (bool, error) {
	if prev == nil || prev.RoundEnded || prev.RoundID == 0 || snap.RoundID <= prev.RoundID {
		return false, nil
	}

	readCtx, cancel := e.io(ctx)
	defer cancel()

	summary, err := e.deps.Reader.RoundSummary(readCtx, prev.RoundID)
	if err != nil {
		return false, err
	}
	return summary != nil, nil
}

func (e *Engine) detectionFailed(ctx context.Context, res *CycleResult, serverID string, err error) {
	derr := &DetectionError{ServerID: serverID, Err: err}
	res.Errors = append(res.Errors, derr)
	e.emit(ctx, events.Event{Type: events.DetectionFailed, ServerID: serverID, Reason: derr.Error()})
}
