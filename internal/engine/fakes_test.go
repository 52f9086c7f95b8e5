package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/events"
	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
	"github.com/hootmeow/bf1942-map-alert/internal/subscription"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// FakeReader serves scripted snapshots.
type FakeReader struct {
	Servers []snapshot.Server
	Err     error
	Rounds  map[int64]*snapshot.RoundSummary
	// RoundErr fails every RoundSummary call.
	RoundErr error
}

func (f *FakeReader) ReadServers(context.Context) ([]snapshot.Server, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]snapshot.Server(nil), f.Servers...), nil
}

func (f *FakeReader) RoundSummary(_ context.Context, roundID int64) (*snapshot.RoundSummary, error) {
	if f.RoundErr != nil {
		return nil, f.RoundErr
	}
	return f.Rounds[roundID], nil
}

func (f *FakeReader) LastCompletedRound(context.Context, string) (*snapshot.RoundSummary, error) {
	return nil, nil
}

// FakeSubscriptions serves a fixed state.
type FakeSubscriptions struct {
	State subscription.State
	Err   error
}

func (f *FakeSubscriptions) Load(context.Context) (subscription.State, error) {
	return f.State, f.Err
}

// FakeStore is an in-memory Store and dedup guard.
type FakeStore struct {
	mu         sync.Mutex
	now        func() time.Time
	watermarks map[string]transition.Watermark
	sightings  map[string]storage.PlayerSighting
	outbox     map[int64]storage.PendingDelivery
	sent       map[string]bool
	failures   []storage.PendingDelivery
	nextID     int64
	commits    int

	CommitErr map[string]error // by server
}

func NewFakeStore(now func() time.Time) *FakeStore {
	return &FakeStore{
		now:        now,
		watermarks: make(map[string]transition.Watermark),
		sightings:  make(map[string]storage.PlayerSighting),
		outbox:     make(map[int64]storage.PendingDelivery),
		sent:       make(map[string]bool),
		CommitErr:  make(map[string]error),
	}
}

func (f *FakeStore) Watermarks(context.Context) (map[string]transition.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]transition.Watermark, len(f.watermarks))
	for k, v := range f.watermarks {
		out[k] = v
	}
	return out, nil
}

func (f *FakeStore) CommitServer(_ context.Context, c storage.ServerCommit) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CommitErr[c.Watermark.ServerID]; err != nil {
		return 0, err
	}
	f.commits++

	queued := 0
	for _, d := range c.Deliveries {
		if f.queuedLocked(d.UserID, d.Identity) {
			continue
		}
		f.nextID++
		d.ID = f.nextID
		d.CreatedAt = f.now()
		d.NextAttemptAt = d.CreatedAt
		f.outbox[d.ID] = d
		queued++
	}
	for _, s := range c.Sightings {
		f.sightings[s.ServerID+"/"+s.PlayerName] = s
	}
	f.watermarks[c.Watermark.ServerID] = c.Watermark
	return queued, nil
}

func (f *FakeStore) queuedLocked(user, identity string) bool {
	for _, d := range f.outbox {
		if d.UserID == user && d.Identity == identity {
			return true
		}
	}
	return false
}

func (f *FakeStore) RecentSightings(_ context.Context, since time.Time) ([]storage.PlayerSighting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.PlayerSighting
	for _, s := range f.sightings {
		if !s.LastSeen.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FakeStore) DueDeliveries(_ context.Context, now time.Time, limit int) ([]storage.PendingDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.PendingDelivery
	for _, d := range f.outbox {
		if !d.NextAttemptAt.After(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) DeleteDelivery(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.outbox, id)
	return nil
}

func (f *FakeStore) RescheduleDelivery(_ context.Context, id int64, next time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.outbox[id]
	if !ok {
		return errors.New("no such delivery")
	}
	d.Attempts++
	d.LastError = reason
	d.NextAttemptAt = next
	f.outbox[id] = d
	return nil
}

func (f *FakeStore) FailDelivery(_ context.Context, d storage.PendingDelivery, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.outbox, d.ID)
	f.failures = append(f.failures, d)
	return nil
}

func (f *FakeStore) AlreadySent(_ context.Context, user, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[user+"|"+identity], nil
}

func (f *FakeStore) RecordSent(_ context.Context, user, identity string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[user+"|"+identity] = true
	return nil
}

func (f *FakeStore) Outbox() []storage.PendingDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.PendingDelivery, 0, len(f.outbox))
	for _, d := range f.outbox {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *FakeStore) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// FakeDispatcher returns scripted outcomes keyed by user id and records the
// jobs it was given.
type FakeDispatcher struct {
	mu       sync.Mutex
	Outcomes map[string]delivery.Outcome
	Jobs     []delivery.Job
}

func (f *FakeDispatcher) Dispatch(_ context.Context, jobs []delivery.Job) []delivery.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]delivery.Result, len(jobs))
	for i, j := range jobs {
		f.Jobs = append(f.Jobs, j)
		out, ok := f.Outcomes[j.UserID]
		if !ok {
			out = delivery.Outcome{Status: delivery.Delivered}
		}
		results[i] = delivery.Result{Job: j, Outcome: out}
	}
	return results
}

func (f *FakeDispatcher) Users() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, j := range f.Jobs {
		out = append(out, j.UserID)
	}
	return out
}

// RecordingEmitter keeps every event.
type RecordingEmitter struct {
	mu     sync.Mutex
	Events []events.Event
}

func (r *RecordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

func (r *RecordingEmitter) Count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}
