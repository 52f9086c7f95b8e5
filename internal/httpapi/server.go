// Package httpapi serves the operator endpoints: liveness, database health,
// engine status and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hootmeow/bf1942-map-alert/internal/poller"
	"github.com/hootmeow/bf1942-map-alert/internal/render"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
)

// StatusSource reports scheduler progress.
type StatusSource interface {
	Status() poller.Status
}

// Store is the engine state the status page reads.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (storage.Stats, error)
	RecentFailures(ctx context.Context, limit int) ([]storage.DeliveryFailure, error)
}

// Deps are the handlers' dependencies. StatsDB may be nil.
type Deps struct {
	Scheduler StatusSource
	Store     Store
	StatsDB   func(ctx context.Context) error
	Renderers *render.Registry
}

type handler struct {
	deps Deps
}

// NewRouter creates the chi router with all routes.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h := &handler{deps: deps}

	r.Get("/healthz", h.healthz)
	r.Get("/health/db", h.healthDB)
	r.Get("/status", h.status)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) healthDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}
	healthy := true

	body["engine_db"] = "connected"
	if err := h.deps.Store.Ping(ctx); err != nil {
		slog.Warn("Engine database health check failed", "error", err)
		body["engine_db"] = "disconnected"
		healthy = false
	}
	if h.deps.StatsDB != nil {
		body["stats_db"] = "connected"
		if err := h.deps.StatsDB(ctx); err != nil {
			slog.Warn("Stats database health check failed", "error", err)
			body["stats_db"] = "disconnected"
			healthy = false
		}
	}

	status := http.StatusOK
	body["status"] = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	writeJSON(w, status, body)
}

type cycleSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Servers     int       `json:"servers"`
	Transitions int       `json:"transitions"`
	Matched     int       `json:"matched"`
	Suppressed  int       `json:"suppressed"`
	AlreadySent int       `json:"already_sent"`
	Queued      int       `json:"queued"`
	Delivered   int       `json:"delivered"`
	Transient   int       `json:"transient"`
	Permanent   int       `json:"permanent"`
	Expired     int       `json:"expired"`
	Errors      []string  `json:"errors,omitempty"`
}

type failureView struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	ServerID  string    `json:"server_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st := h.deps.Scheduler.Status()
	body := map[string]any{
		"scheduler": st,
	}

	if res := st.LastResult; res != nil {
		summary := cycleSummary{
			ID:          res.ID,
			StartedAt:   res.StartedAt,
			DurationMS:  res.Duration.Milliseconds(),
			Servers:     res.Servers,
			Transitions: res.Transitions,
			Matched:     res.Matched,
			Suppressed:  res.Suppressed,
			AlreadySent: res.AlreadySent,
			Queued:      res.Queued,
			Delivered:   res.Delivered,
			Transient:   res.Transient,
			Permanent:   res.Permanent,
			Expired:     res.Expired,
		}
		for _, err := range res.Errors {
			summary.Errors = append(summary.Errors, err.Error())
		}
		body["last_cycle"] = summary
	}

	if stats, err := h.deps.Store.Stats(ctx); err != nil {
		slog.Warn("Failed to read storage stats", "error", err)
	} else {
		body["storage"] = map[string]int64{
			"watermarks":       stats.Watermarks,
			"pending_outbox":   stats.PendingOutbox,
			"delivery_records": stats.DeliveryRecords,
			"failures":         stats.Failures,
		}
	}

	if failures, err := h.deps.Store.RecentFailures(ctx, 20); err != nil {
		slog.Warn("Failed to read delivery failures", "error", err)
	} else {
		views := make([]failureView, 0, len(failures))
		for _, f := range failures {
			views = append(views, failureView{
				UserID:    f.UserID,
				Kind:      f.Kind,
				ServerID:  f.ServerID,
				ChannelID: f.ChannelID,
				Reason:    f.Reason,
				FailedAt:  f.FailedAt,
			})
		}
		body["recent_failures"] = views
	}

	if h.deps.Renderers != nil {
		body["renderers"] = h.deps.Renderers.List()
	}

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
