// Package firstbuy flags purchases with no qualifying prior purchase by the
// same person and issuer within the lookback horizon.
package firstbuy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/core/domain"
	"github.com/form4watch/signal-engine/internal/detect/cluster"
	"github.com/form4watch/signal-engine/internal/platform/clock"
	"github.com/form4watch/signal-engine/internal/platform/observability"
	"github.com/form4watch/signal-engine/internal/scoring"
)

// Store is the storage surface the detector needs.
type Store interface {
	QualifyingPurchases(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
	PriorPurchaseExists(ctx context.Context, personID, issuerID int64, from, to time.Time) (bool, error)
	UpsertFirstBuy(ctx context.Context, s domain.FirstBuySignal) (id int64, inserted bool, err error)
	DeactivateFirstBuysNotIn(ctx context.Context, since time.Time, keep []int64) error
}

// Notifier is invoked for newly created first-buy rows.
type Notifier interface {
	FirstBuyDetected(ctx context.Context, signalID int64) error
}

// Config holds the detection windows.
type Config struct {
	RecentDays        int
	LookbackDays      int
	ClusterWindowDays int
}

// Result summarizes one detection run.
type Result struct {
	Processed int
	New       int
	Updated   int
	Failed    int
}

// Detector finds first buys in the recent window.
type Detector struct {
	store    Store
	notifier Notifier
	clk      clock.Clock
	cfg      Config
	logger   *zerolog.Logger
}

func New(store Store, notifier Notifier, clk clock.Clock, cfg Config, logger *zerolog.Logger) *Detector {
	return &Detector{
		store:    store,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run checks every candidate purchase in the recent window against the
// lookback horizon, then deactivates previously active rows that no longer
// qualify. Per-candidate failures are logged and skipped.
func (d *Detector) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() {
		observability.DetectionCycleDuration.WithLabelValues(domain.SignalFirstBuy).
			Observe(time.Since(started).Seconds())
	}()

	var res Result

	now := d.clk.Now()
	from := now.AddDate(0, 0, -d.cfg.RecentDays)

	candidates, err := d.store.QualifyingPurchases(ctx, from, now)
	if err != nil {
		return res, fmt.Errorf("load candidate purchases: %w", err)
	}

	idx, err := d.buildSizeIndex(ctx, from, now)
	if err != nil {
		return res, fmt.Errorf("build cluster size index: %w", err)
	}

	var kept []int64

	for _, t := range candidates {
		res.Processed++

		firstBuy, err := d.check(ctx, t, idx)
		if err != nil {
			res.Failed++

			observability.DetectionFailures.WithLabelValues(domain.SignalFirstBuy).Inc()
			d.logger.Error().Err(err).
				Int64("transaction_id", t.TransactionID).
				Msg("first buy check failed")

			continue
		}

		if firstBuy == nil {
			continue
		}

		kept = append(kept, t.TransactionID)

		id, inserted, err := d.store.UpsertFirstBuy(ctx, *firstBuy)
		if err != nil {
			res.Failed++

			d.logger.Error().Err(err).
				Int64("transaction_id", t.TransactionID).
				Msg("first buy upsert failed")

			continue
		}

		if inserted {
			res.New++

			if err := d.notifier.FirstBuyDetected(ctx, id); err != nil {
				d.logger.Warn().Err(err).Int64("signal_id", id).Msg("first buy notification failed")
			}
		} else {
			res.Updated++
		}
	}

	if err := d.store.DeactivateFirstBuysNotIn(ctx, from, kept); err != nil {
		return res, fmt.Errorf("deactivate stale first buys: %w", err)
	}

	observability.SignalsDetected.WithLabelValues(domain.SignalFirstBuy, "new").Add(float64(res.New))
	observability.SignalsDetected.WithLabelValues(domain.SignalFirstBuy, "updated").Add(float64(res.Updated))

	return res, nil
}

func (d *Detector) buildSizeIndex(ctx context.Context, from, to time.Time) (*cluster.SizeIndex, error) {
	// Purchases slightly beyond the candidate window complete the ±window
	// co-buyer counts at the edges, so an aging candidate keeps the co-buyers
	// that fall just before the window start.
	purchases, err := d.store.QualifyingPurchases(ctx,
		from.AddDate(0, 0, -d.cfg.ClusterWindowDays),
		to.AddDate(0, 0, d.cfg.ClusterWindowDays))
	if err != nil {
		return nil, err
	}

	return cluster.NewSizeIndex(purchases, d.cfg.ClusterWindowDays), nil
}

// check returns the signal to upsert, or nil when a qualifying prior purchase
// disqualifies the candidate.
func (d *Detector) check(ctx context.Context, t domain.Trade, idx *cluster.SizeIndex) (*domain.FirstBuySignal, error) {
	prior, err := d.store.PriorPurchaseExists(ctx, t.PersonID, t.IssuerID,
		t.Date.AddDate(0, 0, -d.cfg.LookbackDays),
		t.Date.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	if prior {
		return nil, nil
	}

	t.ClusterSize = idx.Size(t.IssuerID, t.Date)
	c := scoring.Importance(t, true)

	return &domain.FirstBuySignal{
		TransactionID:   t.TransactionID,
		IssuerID:        t.IssuerID,
		PersonID:        t.PersonID,
		Date:            t.Date,
		LookbackDays:    d.cfg.LookbackDays,
		ImportanceScore: c.Total(),
		IsPartOfCluster: t.ClusterSize >= 2,
		ClusterSize:     t.ClusterSize,
	}, nil
}
