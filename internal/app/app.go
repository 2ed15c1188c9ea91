// Package app wires configuration, storage, detection, notification and the
// scheduler into a runnable engine.
package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/detect/cluster"
	"github.com/form4watch/signal-engine/internal/detect/firstbuy"
	"github.com/form4watch/signal-engine/internal/detect/important"
	"github.com/form4watch/signal-engine/internal/detect/rollup"
	"github.com/form4watch/signal-engine/internal/mail"
	"github.com/form4watch/signal-engine/internal/notify"
	"github.com/form4watch/signal-engine/internal/platform/clock"
	"github.com/form4watch/signal-engine/internal/platform/config"
	"github.com/form4watch/signal-engine/internal/platform/observability"
	"github.com/form4watch/signal-engine/internal/platform/worker"
	"github.com/form4watch/signal-engine/internal/storage"
)

// App owns every long-lived component of the engine.
type App struct {
	cfg    *config.Config
	db     *storage.DB
	logger *zerolog.Logger

	clusters   *cluster.Detector
	important  *important.Scorer
	firstBuys  *firstbuy.Detector
	rollups    *rollup.Aggregator
	dispatcher *notify.Dispatcher
}

// New builds the full component graph on top of an open database.
func New(cfg *config.Config, db *storage.DB, logger *zerolog.Logger) (*App, error) {
	clk := clock.System()

	smtpSender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.MailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}

	sender := mail.NewResilientSender(smtpSender, cfg.MailRatePerSecond)

	orchestrator := notify.NewOrchestrator(db, clk, logger)

	return &App{
		cfg:    cfg,
		db:     db,
		logger: logger,
		clusters: cluster.New(db, orchestrator, clk, cluster.Config{
			LookbackDays:        cfg.ClusterLookbackDays,
			WindowDays:          cfg.ClusterWindowDays,
			RenotifyMinStrength: cfg.RenotifyMinStrength,
			RetentionDays:       cfg.RetentionDays,
		}, logger),
		important: important.New(db, orchestrator, clk, important.Config{
			RecentDays:           cfg.ImportantRecentDays,
			ClusterWindowDays:    cfg.ClusterWindowDays,
			FirstBuyLookbackDays: cfg.FirstBuyLookbackDays,
		}, logger),
		firstBuys: firstbuy.New(db, orchestrator, clk, firstbuy.Config{
			RecentDays:        cfg.FirstBuyRecentDays,
			LookbackDays:      cfg.FirstBuyLookbackDays,
			ClusterWindowDays: cfg.ClusterWindowDays,
		}, logger),
		rollups: rollup.New(db, clk, cfg.ImportantRecentDays, logger),
		dispatcher: notify.NewDispatcher(db, sender, clk, notify.DispatcherConfig{
			BatchSize:     cfg.DispatchBatchSize,
			MaxRetries:    cfg.DispatchMaxRetries,
			DigestWindow:  cfg.DigestWindow,
			RetentionDays: cfg.RetentionDays,
		}, logger),
	}, nil
}

// RunScheduler blocks running both cycles on their cron cadences until the
// context is cancelled.
func (a *App) RunScheduler(ctx context.Context) error {
	c := cron.New()

	if _, err := c.AddFunc(a.cfg.DetectSchedule, func() {
		defer worker.RecoverPanic(a.logger, "detection cycle")
		a.RunDetectOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule detection: %w", err)
	}

	if _, err := c.AddFunc(a.cfg.DispatchSchedule, func() {
		defer worker.RecoverPanic(a.logger, "dispatch cycle")
		a.RunDispatchOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule dispatch: %w", err)
	}

	a.logger.Info().
		Str("detect_schedule", a.cfg.DetectSchedule).
		Str("dispatch_schedule", a.cfg.DispatchSchedule).
		Msg("scheduler starting")

	c.Start()

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()

	return nil
}

// RunDetectOnce runs one full detection pass: clusters, importance scores,
// first buys, then rollups. A failing component is logged and the remaining
// components still run; their writes are independent.
func (a *App) RunDetectOnce(ctx context.Context) {
	held, err := a.db.TryAcquireAdvisoryLock(ctx, storage.LockDetection)
	if err != nil {
		a.logger.Error().Err(err).Msg("detection lock failed")

		return
	}

	if !held {
		a.logger.Info().Msg("detection cycle already running elsewhere, skipping")

		return
	}

	defer func() {
		if err := a.db.ReleaseAdvisoryLock(ctx, storage.LockDetection); err != nil {
			a.logger.Error().Err(err).Msg("detection unlock failed")
		}
	}()

	if res, err := a.clusters.Run(ctx); err != nil {
		a.logger.Error().Err(err).Msg("cluster detection failed")
	} else {
		a.logger.Info().
			Int("processed", res.Processed).
			Int("new", res.New).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Int64("pruned", res.Pruned).
			Msg("cluster detection done")
	}

	if res, err := a.important.Run(ctx); err != nil {
		a.logger.Error().Err(err).Msg("importance scoring failed")
	} else {
		a.logger.Info().
			Int("processed", res.Processed).
			Int("qualified", res.Qualified).
			Int("new", res.New).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Msg("importance scoring done")
	}

	if res, err := a.firstBuys.Run(ctx); err != nil {
		a.logger.Error().Err(err).Msg("first buy detection failed")
	} else {
		a.logger.Info().
			Int("processed", res.Processed).
			Int("new", res.New).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Msg("first buy detection done")
	}

	if res, err := a.rollups.Run(ctx); err != nil {
		a.logger.Error().Err(err).Msg("rollups failed")
	} else {
		a.logger.Info().
			Int("days", res.Days).
			Int("failed", res.Failed).
			Msg("rollups done")
	}
}

// RunDispatchOnce runs one dispatch pass over the notification queue.
func (a *App) RunDispatchOnce(ctx context.Context) {
	held, err := a.db.TryAcquireAdvisoryLock(ctx, storage.LockDispatch)
	if err != nil {
		a.logger.Error().Err(err).Msg("dispatch lock failed")

		return
	}

	if !held {
		a.logger.Info().Msg("dispatch cycle already running elsewhere, skipping")

		return
	}

	defer func() {
		if err := a.db.ReleaseAdvisoryLock(ctx, storage.LockDispatch); err != nil {
			a.logger.Error().Err(err).Msg("dispatch unlock failed")
		}
	}()

	res, err := a.dispatcher.Run(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("dispatch failed")

		return
	}

	a.logger.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("cancelled", res.Cancelled).
		Int("digests", res.Digests).
		Int64("pruned", res.Pruned).
		Msg("dispatch done")
}

// StartHealthServer blocks serving the liveness, readiness and metrics
// endpoints until the context is cancelled.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.db, a.cfg.HealthPort, a.logger).Start(ctx)
}
