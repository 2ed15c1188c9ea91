// Package important scores individual qualifying transactions with the
// composite importance formula. Qualification and scoring are deliberately
// separate stages: the noise floor decides what enters the read-side view,
// the score ranks what passed.
package important

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

// Store is the storage surface the scorer needs.
type Store interface {
	ScorableTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
	QualifyingPurchases(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
	PriorPurchaseExists(ctx context.Context, personID, issuerID int64, from, to time.Time) (bool, error)
	UpsertImportantTrade(ctx context.Context, s domain.ImportantTradeSignal) (id int64, inserted bool, err error)
}

// Notifier is invoked for newly created important-trade rows.
type Notifier interface {
	ImportantTradeDetected(ctx context.Context, signalID int64) error
}

// Config holds the scoring windows.
type Config struct {
	RecentDays           int
	ClusterWindowDays    int
	FirstBuyLookbackDays int
}

// Result summarizes one scoring run.
type Result struct {
	Processed int
	Qualified int
	New       int
	Updated   int
	Failed    int
}

// Scorer recomputes importance scores for recent transactions.
type Scorer struct {
	store    Store
	notifier Notifier
	clk      clock.Clock
	cfg      Config
	logger   *zerolog.Logger
}

func New(store Store, notifier Notifier, clk clock.Clock, cfg Config, logger *zerolog.Logger) *Scorer {
	return &Scorer{
		store:    store,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run scores every qualifying transaction in the recent window. Per-trade
// failures are logged and skipped.
func (s *Scorer) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() {
		observability.DetectionCycleDuration.WithLabelValues(domain.SignalImportantTrade).
			Observe(time.Since(started).Seconds())
	}()

	var res Result

	now := s.clk.Now()
	from := now.AddDate(0, 0, -s.cfg.RecentDays)

	trades, err := s.store.ScorableTrades(ctx, from, now)
	if err != nil {
		return res, fmt.Errorf("load scorable trades: %w", err)
	}

	idx, err := s.buildSizeIndex(ctx, from, now)
	if err != nil {
		return res, fmt.Errorf("build cluster size index: %w", err)
	}

	for _, t := range trades {
		res.Processed++

		t.ClusterSize = idx.Size(t.IssuerID, t.Date)

		if !scoring.Qualifies(t) {
			continue
		}

		res.Qualified++

		inserted, err := s.scoreOne(ctx, t)
		if err != nil {
			res.Failed++

			observability.DetectionFailures.WithLabelValues(domain.SignalImportantTrade).Inc()
			s.logger.Error().Err(err).
				Int64("transaction_id", t.TransactionID).
				Msg("important trade scoring failed")

			continue
		}

		if inserted {
			res.New++
		} else {
			res.Updated++
		}
	}

	observability.SignalsDetected.WithLabelValues(domain.SignalImportantTrade, "new").Add(float64(res.New))
	observability.SignalsDetected.WithLabelValues(domain.SignalImportantTrade, "updated").Add(float64(res.Updated))

	return res, nil
}

func (s *Scorer) buildSizeIndex(ctx context.Context, from, to time.Time) (*cluster.SizeIndex, error) {
	// Purchases slightly beyond the scoring window complete the ±window
	// co-buyer counts at the edges.
	purchases, err := s.store.QualifyingPurchases(ctx,
		from.AddDate(0, 0, -s.cfg.ClusterWindowDays),
		to.AddDate(0, 0, s.cfg.ClusterWindowDays))
	if err != nil {
		return nil, err
	}

	return cluster.NewSizeIndex(purchases, s.cfg.ClusterWindowDays), nil
}

func (s *Scorer) scoreOne(ctx context.Context, t domain.Trade) (bool, error) {
	firstBuy, err := s.isFirstBuy(ctx, t)
	if err != nil {
		return false, err
	}

	c := scoring.Importance(t, firstBuy)

	signal := domain.ImportantTradeSignal{
		TransactionID:   t.TransactionID,
		IssuerID:        t.IssuerID,
		PersonID:        t.PersonID,
		Date:            t.Date,
		ImportanceScore: c.Total(),
		ValueScore:      c.Value,
		DirectionScore:  c.Direction,
		RoleScore:       c.Role,
		OwnershipScore:  c.Ownership,
		ClusterScore:    c.Cluster,
		TimingScore:     c.Timing,
		IsPurchase:      t.IsPurchase(),
		IsSale:          t.IsSale(),
		IsFirstBuy:      firstBuy,
		Is10b51Plan:     t.Is10b51Plan,
		ClusterSize:     t.ClusterSize,
	}

	id, inserted, err := s.store.UpsertImportantTrade(ctx, signal)
	if err != nil {
		return false, err
	}

	if inserted {
		if err := s.notifier.ImportantTradeDetected(ctx, id); err != nil {
			s.logger.Warn().Err(err).Int64("signal_id", id).Msg("important trade notification failed")
		}
	}

	return inserted, nil
}

func (s *Scorer) isFirstBuy(ctx context.Context, t domain.Trade) (bool, error) {
	if !t.IsPurchase() {
		return false, nil
	}

	prior, err := s.store.PriorPurchaseExists(ctx, t.PersonID, t.IssuerID,
		t.Date.AddDate(0, 0, -s.cfg.FirstBuyLookbackDays),
		t.Date.AddDate(0, 0, -1))
	if err != nil {
		return false, err
	}

	return !prior, nil
}
