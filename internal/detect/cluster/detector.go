// Package cluster detects coordinated insider buying: two or more distinct
// insiders purchasing the same issuer on the same date. Each detection cycle
// soft-invalidates the active set, recomputes it from the transaction history
// and prunes retired rows past retention.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/core/domain"
	"github.com/form4watch/signal-engine/internal/platform/clock"
	"github.com/form4watch/signal-engine/internal/platform/observability"
	"github.com/form4watch/signal-engine/internal/scoring"
)

const minClusterInsiders = 2

// Store is the storage surface the detector needs.
type Store interface {
	DeactivateAllClusters(ctx context.Context) error
	QualifyingPurchases(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
	UpsertCluster(ctx context.Context, c domain.ClusterBuySignal) (id int64, inserted bool, err error)
	ReplaceClusterTrades(ctx context.Context, clusterID int64, trades []domain.ClusterBuyTrade) error
	PruneInactiveClusters(ctx context.Context, cutoff time.Time) (int64, error)
	CountActiveClusters(ctx context.Context) (int, error)
}

// Notifier is invoked for clusters that are new, or updated at notable
// strength.
type Notifier interface {
	ClusterDetected(ctx context.Context, clusterID int64) error
}

// Config holds the detection windows.
type Config struct {
	LookbackDays int
	WindowDays   int
	// RenotifyMinStrength gates re-notification of updated clusters.
	RenotifyMinStrength int
	RetentionDays       int
}

// Result summarizes one detection run.
type Result struct {
	Processed int
	New       int
	Updated   int
	Failed    int
	Pruned    int64
}

// Detector recomputes cluster buy signals.
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

// Run executes one detection cycle. The blanket deactivation and the final
// prune are fatal on failure; a failure processing one group is logged and
// the rest of the batch continues.
func (d *Detector) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() {
		observability.DetectionCycleDuration.WithLabelValues(domain.SignalClusterBuy).
			Observe(time.Since(started).Seconds())
	}()

	var res Result

	if err := d.store.DeactivateAllClusters(ctx); err != nil {
		return res, fmt.Errorf("invalidate active clusters: %w", err)
	}

	now := d.clk.Now()
	from := now.AddDate(0, 0, -(d.cfg.LookbackDays + d.cfg.WindowDays))

	trades, err := d.store.QualifyingPurchases(ctx, from, now)
	if err != nil {
		return res, fmt.Errorf("load qualifying purchases: %w", err)
	}

	groups := groupByIssuerDate(trades, now.AddDate(0, 0, -d.cfg.LookbackDays))

	for _, g := range groups {
		if g.DistinctInsiders() < minClusterInsiders {
			continue
		}

		res.Processed++

		inserted, err := d.processGroup(ctx, g, trades)
		if err != nil {
			res.Failed++

			observability.DetectionFailures.WithLabelValues(domain.SignalClusterBuy).Inc()
			d.logger.Error().Err(err).
				Int64("issuer_id", g.IssuerID).
				Str("date", g.Date.Format("2006-01-02")).
				Msg("cluster group failed")

			continue
		}

		if inserted {
			res.New++
		} else {
			res.Updated++
		}
	}

	cutoff := now.AddDate(0, 0, -d.cfg.RetentionDays)

	pruned, err := d.store.PruneInactiveClusters(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("prune inactive clusters: %w", err)
	}

	res.Pruned = pruned

	if active, err := d.store.CountActiveClusters(ctx); err == nil {
		observability.ActiveClusters.Set(float64(active))
	}

	observability.SignalsDetected.WithLabelValues(domain.SignalClusterBuy, "new").Add(float64(res.New))
	observability.SignalsDetected.WithLabelValues(domain.SignalClusterBuy, "updated").Add(float64(res.Updated))

	return res, nil
}

func (d *Detector) processGroup(ctx context.Context, g domain.ClusterGroup, all []domain.Trade) (bool, error) {
	agg := scoring.Aggregate(g)
	strength := scoring.ClusterStrength(agg)

	signal := domain.ClusterBuySignal{
		IssuerID:           g.IssuerID,
		Date:               g.Date,
		TotalInsiders:      agg.Insiders,
		TotalShares:        g.TotalShares(),
		TotalValue:         g.TotalValue(),
		SignalStrength:     strength,
		HasCEOBuy:          agg.HasCEO,
		HasCFOBuy:          agg.HasCFO,
		HasTenPercentOwner: agg.HasTenPercentOwner,
		BuyWindowStart:     g.Date.AddDate(0, 0, -d.cfg.WindowDays),
		BuyWindowEnd:       g.Date.AddDate(0, 0, d.cfg.WindowDays),
	}

	id, inserted, err := d.store.UpsertCluster(ctx, signal)
	if err != nil {
		return false, err
	}

	if err := d.store.ReplaceClusterTrades(ctx, id, lineItems(g, all, d.cfg.WindowDays)); err != nil {
		return inserted, err
	}

	if inserted || strength >= d.cfg.RenotifyMinStrength {
		if err := d.notifier.ClusterDetected(ctx, id); err != nil {
			// Notification failure does not fail the signal itself; the
			// fingerprint dedup makes a later retry safe.
			d.logger.Warn().Err(err).Int64("cluster_id", id).Msg("cluster notification failed")
		}
	}

	return inserted, nil
}

// groupByIssuerDate buckets qualifying purchases into (issuer, date) groups,
// ordered deterministically. Trades dated before the lookback start exist in
// the slice only to complete ±window line items and are not grouped.
func groupByIssuerDate(trades []domain.Trade, lookbackStart time.Time) []domain.ClusterGroup {
	type key struct {
		issuerID int64
		day      time.Time
	}

	buckets := make(map[key]*domain.ClusterGroup)

	for _, t := range trades {
		if t.Date.Before(lookbackStart) {
			continue
		}

		k := key{issuerID: t.IssuerID, day: day(t.Date)}

		g, ok := buckets[k]
		if !ok {
			g = &domain.ClusterGroup{
				IssuerID:   t.IssuerID,
				IssuerCIK:  t.IssuerCIK,
				IssuerName: t.IssuerName,
				Ticker:     t.IssuerTicker,
				Sector:     t.IssuerSector,
				Date:       k.day,
			}
			buckets[k] = g
		}

		g.Trades = append(g.Trades, t)
	}

	groups := make([]domain.ClusterGroup, 0, len(buckets))
	for _, g := range buckets {
		groups = append(groups, *g)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].IssuerID != groups[j].IssuerID {
			return groups[i].IssuerID < groups[j].IssuerID
		}

		return groups[i].Date.Before(groups[j].Date)
	})

	return groups
}

// lineItems rebuilds a cluster's denormalized trades from every qualifying
// purchase of the issuer within ±window days of the cluster date.
func lineItems(g domain.ClusterGroup, all []domain.Trade, windowDays int) []domain.ClusterBuyTrade {
	lo := g.Date.AddDate(0, 0, -windowDays)
	hi := g.Date.AddDate(0, 0, windowDays)

	var items []domain.ClusterBuyTrade

	for _, t := range all {
		if t.IssuerID != g.IssuerID {
			continue
		}

		d := day(t.Date)
		if d.Before(lo) || d.After(hi) {
			continue
		}

		items = append(items, domain.ClusterBuyTrade{
			TransactionID: t.TransactionID,
			PersonName:    t.PersonName,
			Date:          t.Date,
			Shares:        t.Shares,
			Price:         t.Price,
			Value:         t.Value,
			IsOfficer:     t.IsOfficer,
			IsDirector:    t.IsDirector,
			IsTenPercent:  t.IsTenPercentOwner,
			OfficerTitle:  t.OfficerTitle,
		})
	}

	return items
}
