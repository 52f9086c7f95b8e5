package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/events"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
)

const maxBackoff = 10 * time.Minute

// backoff returns the delay before the given retry. The first retry happens
// on the next cycle.
func backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Minute << (attempt - 2)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// deliverDue dispatches the outbox rows that are due and settles each outcome.
func (e *Engine) deliverDue(ctx context.Context, res *CycleResult) {
	if ctx.Err() != nil {
		return
	}
	now := e.now()

	loadCtx, cancel := e.io(ctx)
	due, err := e.deps.Store.DueDeliveries(loadCtx, now, e.cfg.OutboxBatch)
	cancel()
	if err != nil {
		perr := &PersistenceError{Op: "load outbox", Err: err}
		res.Errors = append(res.Errors, perr)
		e.emit(ctx, events.Event{Type: events.PersistenceFailed, Reason: perr.Error()})
		return
	}
	if len(due) == 0 {
		return
	}

	// Bookkeeping must finish even when shutdown cancels ctx.
	settleCtx := context.WithoutCancel(ctx)

	byID := make(map[int64]storage.PendingDelivery, len(due))
	jobs := make([]delivery.Job, 0, len(due))
	for _, d := range due {
		checkCtx, cancel := e.io(ctx)
		sent, err := e.deps.Guard.AlreadySent(checkCtx, d.UserID, d.Identity)
		cancel()
		if err != nil {
			slog.Warn("Dedup check failed", "user", d.UserID, "identity", d.Identity, "error", err)
		} else if sent {
			// Delivered before a crash that left the row behind.
			res.AlreadySent++
			e.deleteDelivery(settleCtx, d, res)
			continue
		}

		var p delivery.Payload
		if err := json.Unmarshal(d.Payload, &p); err != nil {
			res.Permanent++
			e.fail(settleCtx, d, fmt.Sprintf("corrupt payload: %v", err), res)
			continue
		}

		byID[d.ID] = d
		jobs = append(jobs, delivery.Job{ID: d.ID, UserID: d.UserID, ChannelID: d.ChannelID, Payload: p})
	}

	for _, r := range e.deps.Dispatcher.Dispatch(ctx, jobs) {
		e.settle(settleCtx, byID[r.Job.ID], r.Outcome, res)
	}
}

func (e *Engine) settle(ctx context.Context, d storage.PendingDelivery, out delivery.Outcome, res *CycleResult) {
	if errors.Is(out.Err, delivery.ErrNotDispatched) {
		return
	}

	ev := events.Event{
		Type:     events.DeliveryOutcome,
		ServerID: d.ServerID,
		Kind:     d.Kind,
		Identity: d.Identity,
		UserID:   d.UserID,
		Target:   deliveryTarget(d),
		Status:   out.Status.String(),
		Reason:   out.Reason,
	}
	e.emit(ctx, ev)

	switch out.Status {
	case delivery.Delivered:
		res.Delivered++
		recCtx, cancel := e.io(ctx)
		err := e.deps.Guard.RecordSent(recCtx, d.UserID, d.Identity, e.now())
		cancel()
		if err != nil {
			// The row stays queued; the next cycle may send a duplicate.
			perr := &PersistenceError{ServerID: d.ServerID, Op: "record sent", Err: err}
			res.Errors = append(res.Errors, perr)
			e.emit(ctx, events.Event{Type: events.PersistenceFailed, ServerID: d.ServerID, UserID: d.UserID, Reason: perr.Error()})
			return
		}
		e.deleteDelivery(ctx, d, res)

	case delivery.Permanent:
		res.Permanent++
		res.Errors = append(res.Errors, fmt.Errorf("deliver %s to %s: %s", d.Kind, d.UserID, out.Reason))
		e.fail(ctx, d, out.Reason, res)

	default:
		res.Transient++
		attempts := d.Attempts + 1
		now := e.now()
		if attempts >= e.cfg.MaxAttempts || (e.cfg.RetryMaxAge > 0 && now.Sub(d.CreatedAt) >= e.cfg.RetryMaxAge) {
			res.Expired++
			ev.Type = events.DeliveryExpired
			ev.Count = attempts
			e.emit(ctx, ev)
			e.fail(ctx, d, fmt.Sprintf("gave up after %d attempts: %s", attempts, out.Reason), res)
			return
		}

		schedCtx, cancel := e.io(ctx)
		err := e.deps.Store.RescheduleDelivery(schedCtx, d.ID, now.Add(backoff(attempts)), out.Reason)
		cancel()
		if err != nil {
			e.persistenceFailed(ctx, d, "reschedule", err, res)
		}
	}
}

func (e *Engine) deleteDelivery(ctx context.Context, d storage.PendingDelivery, res *CycleResult) {
	delCtx, cancel := e.io(ctx)
	defer cancel()
	if err := e.deps.Store.DeleteDelivery(delCtx, d.ID); err != nil {
		e.persistenceFailed(ctx, d, "delete delivery", err, res)
	}
}

func (e *Engine) fail(ctx context.Context, d storage.PendingDelivery, reason string, res *CycleResult) {
	failCtx, cancel := e.io(ctx)
	defer cancel()
	if err := e.deps.Store.FailDelivery(failCtx, d, reason); err != nil {
		e.persistenceFailed(ctx, d, "fail delivery", err, res)
	}
}

func (e *Engine) persistenceFailed(ctx context.Context, d storage.PendingDelivery, op string, err error, res *CycleResult) {
	perr := &PersistenceError{ServerID: d.ServerID, Op: op, Err: err}
	res.Errors = append(res.Errors, perr)
	e.emit(ctx, events.Event{Type: events.PersistenceFailed, ServerID: d.ServerID, UserID: d.UserID, Reason: perr.Error()})
}

func deliveryTarget(d storage.PendingDelivery) string {
	if d.IsDirect() {
		return "dm"
	}
	return "channel:" + d.ChannelID
}
