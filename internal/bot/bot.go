// Package bot wires the alerting engine to Discord, the stats store and the
// operator surfaces.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"

	"github.com/hootmeow/bf1942-map-alert/internal/config"
	"github.com/hootmeow/bf1942-map-alert/internal/db"
	"github.com/hootmeow/bf1942-map-alert/internal/dedup"
	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/engine"
	"github.com/hootmeow/bf1942-map-alert/internal/events"
	"github.com/hootmeow/bf1942-map-alert/internal/httpapi"
	"github.com/hootmeow/bf1942-map-alert/internal/poller"
	"github.com/hootmeow/bf1942-map-alert/internal/render"
	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
	"github.com/hootmeow/bf1942-map-alert/internal/subscription"
)

const (
	maintenanceInterval = time.Hour
	sightingRetention   = 24 * time.Hour
	failureRetention    = 7 * 24 * time.Hour
)

// Options changes how the bot delivers.
type Options struct {
	// DryRun prints rendered payloads to Out instead of sending them. Queued
	// deliveries stay in the outbox.
	DryRun bool
	Out    io.Writer
}

// Bot represents the running alert service
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	statsDB   *sql.DB
	repo      *storage.Repository
	redis     *redis.Client
	kafka     *events.KafkaEmitter
	health    *events.HealthNotifier
	renderers *render.Registry
	engine    *engine.Engine
	scheduler *poller.Scheduler
	server    *http.Server

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Bot instance
func New(ctx context.Context, cfg *config.Config, opts Options) (*Bot, error) {
	if err := cfg.RequireStats(); err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := cfg.RequireDiscord(); err != nil {
			return nil, err
		}
	}

	b := &Bot{
		config:    cfg,
		renderers: render.DefaultRegistry(),
		stopChan:  make(chan struct{}),
	}
	if err := b.init(ctx, opts); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *Bot) init(ctx context.Context, opts Options) error {
	cfg := b.config

	statsDB, err := db.Open(ctx, cfg.StatsDatabaseURL, db.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to stats store: %w", err)
	}
	b.statsDB = statsDB

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	b.repo = repo

	guard, err := b.guard(ctx)
	if err != nil {
		return err
	}

	emitters := events.Multi{events.NewLogEmitter(slog.Default()), events.MetricsEmitter{}}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := events.NewKafkaWriter(strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to create Kafka writer: %w", err)
		}
		b.kafka = events.NewKafkaEmitter(writer)
		emitters = append(emitters, b.kafka)
	}
	if cfg.HealthWebhookURL != "" {
		b.health = events.NewHealthNotifier(cfg.HealthWebhookURL)
		emitters = append(emitters, b.health)
	}

	var sink delivery.Sink
	if opts.DryRun {
		sink = newDryRunSink(opts.Out)
	} else {
		session, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return fmt.Errorf("failed to create Discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds
		session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			slog.Info("Bot is ready", "guilds", len(r.Guilds))
		})
		b.session = session
		sink = delivery.NewDiscordSink(session)
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.JoinBucket = cfg.WatchBucket
	engineCfg.PresenceSeed = cfg.PresenceSeed
	engineCfg.IOTimeout = cfg.IOTimeout
	engineCfg.MaxAttempts = cfg.DeliveryMaxAttempts
	engineCfg.RetryMaxAge = cfg.DeliveryRetryMaxAge

	b.engine = engine.New(engine.Deps{
		Reader:        snapshot.NewReader(statsDB),
		Subscriptions: subscription.NewLoader(statsDB),
		Store:         repo,
		Guard:         guard,
		Renderers:     b.renderers,
		Dispatcher: delivery.NewFanOut(sink, delivery.Options{
			Workers:        cfg.DeliveryWorkers,
			RatePerSecond:  cfg.DeliveryRatePerSecond,
			AttemptTimeout: cfg.IOTimeout,
		}),
		Events: emitters,
	}, engineCfg)

	b.scheduler = poller.New(b.engine, cfg.PollingInterval, cfg.CycleTimeout)
	return nil
}

func (b *Bot) guard(ctx context.Context) (dedup.Guard, error) {
	if b.config.DedupBackend != "redis" {
		return b.repo, nil
	}

	client := redis.NewClient(&redis.Options{Addr: b.config.RedisAddr})
	b.redis = client
	guard := dedup.NewRedisGuard(client, b.config.DedupTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := guard.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("Using Redis dedup guard", "addr", b.config.RedisAddr)
	return guard, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	if b.session != nil {
		if err := b.session.Open(); err != nil {
			return fmt.Errorf("failed to open Discord connection: %w", err)
		}
		slog.Info("Connected to Discord", "user", b.session.State.User.Username)
	}

	if b.health != nil {
		b.health.Start(ctx)
	}

	if b.config.HTTPAddr != "" {
		b.server = &http.Server{
			Addr: b.config.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Scheduler: b.scheduler,
				Store:     b.repo,
				StatsDB:   func(ctx context.Context) error { return db.HealthCheck(ctx, b.statsDB) },
				Renderers: b.renderers,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("Starting status server", "addr", b.config.HTTPAddr)
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status server failed", "error", err)
			}
		}()
	}

	b.wg.Add(1)
	go b.maintain(ctx)

	b.scheduler.Start(ctx)

	return nil
}

// RunOnce runs a single cycle without starting the background loops.
func (b *Bot) RunOnce(ctx context.Context) (engine.CycleResult, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, b.config.CycleTimeout)
	defer cancel()
	return b.engine.RunCycle(cycleCtx)
}

// maintain prunes old engine state once per interval.
func (b *Bot) maintain(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.prune(ctx)
		}
	}
}

func (b *Bot) prune(ctx context.Context) {
	now := time.Now()
	pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := b.repo.Prune(pruneCtx, now.Add(-b.config.DedupTTL), now.Add(-sightingRetention), now.Add(-failureRetention))
	if err != nil {
		slog.Error("Maintenance failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned engine state", "rows", n)
	}
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Let the in-flight cycle settle its dispatched deliveries first
	if b.scheduler != nil {
		b.scheduler.Stop()
	}

	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()

	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			slog.Warn("Status server shutdown failed", "error", err)
		}
	}

	if b.health != nil {
		b.health.Stop()
	}

	return b.close()
}

func (b *Bot) close() error {
	var errs []error
	if b.kafka != nil {
		errs = append(errs, b.kafka.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.repo != nil {
		errs = append(errs, b.repo.Close())
	}
	if b.statsDB != nil {
		errs = append(errs, b.statsDB.Close())
	}
	if b.session != nil {
		errs = append(errs, b.session.Close())
	}
	return errors.Join(errs...)
}
