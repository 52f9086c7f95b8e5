package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hootmeow/bf1942-map-alert/internal/events"
	"github.com/hootmeow/bf1942-map-alert/internal/render"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
	"github.com/hootmeow/bf1942-map-alert/internal/subscription"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

type recipient struct {
	userID     string
	target     subscription.Target
	serverWide bool
}

// recipients resolves the matched users of a transition, one per user.
func recipients(tr transition.Transition, idx *subscription.Index) []recipient {
	if idx == nil {
		return nil
	}
	var out []recipient
	switch tr.Kind {
	case transition.KindMapChanged:
		for _, a := range idx.MatchMapAlert(tr.ServerID, tr.NewMap, tr.Snapshot.PlayerCount) {
			out = append(out, recipient{userID: a.UserID, target: a.Target, serverWide: a.Any()})
		}
	case transition.KindRoundEnded:
		for _, r := range idx.MatchRoundResult(tr.ServerID) {
			out = append(out, recipient{userID: r.UserID, target: r.Target})
		}
	case transition.KindPlayerJoined:
		for _, w := range idx.MatchWatch(tr.PlayerName) {
			out = append(out, recipient{userID: w.UserID})
		}
	}

	seen := make(map[string]bool, len(out))
	unique := out[:0]
	for _, r := range out {
		if seen[r.userID] {
			continue
		}
		seen[r.userID] = true
		unique = append(unique, r)
	}
	return unique
}

// plan turns one transition into outbox rows. Quiet hours and the dedup
// guard are applied here; neither records anything for skipped users.
func (e *Engine) plan(ctx context.Context, tr transition.Transition, state subscription.State, res *CycleResult) []storage.PendingDelivery {
	matched := recipients(tr, state.Index)
	if len(matched) == 0 {
		return nil
	}

	now := e.now()
	identity := tr.Identity()
	base := events.Event{ServerID: tr.ServerID, Kind: string(tr.Kind), Identity: identity}

	var (
		out      []storage.PendingDelivery
		input    render.Input
		enriched bool
	)
	for _, r := range matched {
		res.Matched++
		ev := base
		ev.UserID = r.userID
		ev.Target = targetLabel(r.target)
		ev.Type = events.Matched
		e.emit(ctx, ev)

		if !state.DND.Allows(r.userID, now) {
			res.Suppressed++
			ev.Type = events.Suppressed
			ev.Reason = "quiet hours"
			e.emit(ctx, ev)
			continue
		}

		checkCtx, cancel := e.io(ctx)
		sent, err := e.deps.Guard.AlreadySent(checkCtx, r.userID, identity)
		cancel()
		if err != nil {
			// Queue anyway: a duplicate is preferable to a lost notification.
			slog.Warn("Dedup check failed", "user", r.userID, "identity", identity, "error", err)
		} else if sent {
			res.AlreadySent++
			ev.Type = events.AlreadySent
			e.emit(ctx, ev)
			continue
		}

		if !enriched {
			input = e.enrich(ctx, tr)
			enriched = true
		}
		input.ServerWide = r.serverWide

		payload, err := e.deps.Renderers.Render(input)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("render %s for %s: %w", tr.Kind, r.userID, err))
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("encode payload for %s: %w", r.userID, err))
			continue
		}

		out = append(out, storage.PendingDelivery{
			UserID:    r.userID,
			Identity:  identity,
			Kind:      string(tr.Kind),
			ServerID:  tr.ServerID,
			GuildID:   r.target.GuildID,
			ChannelID: r.target.ChannelID,
			Payload:   data,
		})
	}
	return out
}

// enrich fetches round summaries for the payload. Failures only degrade the
// message.
func (e *Engine) enrich(ctx context.Context, tr transition.Transition) render.Input {
	in := render.Input{Transition: tr}

	readCtx, cancel := e.io(ctx)
	defer cancel()

	var err error
	switch tr.Kind {
	case transition.KindMapChanged:
		in.PreviousRound, err = e.deps.Reader.LastCompletedRound(readCtx, tr.ServerID)
	case transition.KindRoundEnded:
		in.Round, err = e.deps.Reader.RoundSummary(readCtx, tr.RoundID)
	}
	if err != nil {
		slog.Warn("Failed to enrich alert", "server", tr.ServerID, "kind", tr.Kind, "error", err)
	}
	return in
}

func targetLabel(t subscription.Target) string {
	if t.IsDirect() {
		return "dm"
	}
	return "channel:" + t.ChannelID
}
