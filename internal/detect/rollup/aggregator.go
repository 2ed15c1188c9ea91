// Package rollup maintains the daily and issuer-level trend tables from the
// signal tables. Pure aggregation; the only logic beyond SQL grouping is the
// day iteration.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/platform/clock"
)

// Store is the storage surface the aggregator needs.
type Store interface {
	UpsertDailyHistory(ctx context.Context, day time.Time) error
	UpsertIssuerMetrics(ctx context.Context, day time.Time) error
}

// Aggregator recomputes rollups for the trailing window each cycle.
type Aggregator struct {
	store  Store
	clk    clock.Clock
	days   int
	logger *zerolog.Logger
}

func New(store Store, clk clock.Clock, days int, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		clk:    clk,
		days:   days,
		logger: logger,
	}
}

// Result summarizes one aggregation run.
type Result struct {
	Days   int
	Failed int
}

// Run recomputes both rollup tables for each day in the trailing window.
// A failure on one day is logged and the remaining days still run.
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	var res Result

	now := a.clk.Now()

	for offset := 0; offset < a.days; offset++ {
		d := now.AddDate(0, 0, -offset)
		res.Days++

		if err := a.rollupDay(ctx, d); err != nil {
			res.Failed++

			a.logger.Error().Err(err).
				Str("day", d.Format("2006-01-02")).
				Msg("rollup failed")
		}
	}

	return res, nil
}

func (a *Aggregator) rollupDay(ctx context.Context, day time.Time) error {
	if err := a.store.UpsertDailyHistory(ctx, day); err != nil {
		return fmt.Errorf("daily history: %w", err)
	}

	if err := a.store.UpsertIssuerMetrics(ctx, day); err != nil {
		return fmt.Errorf("issuer metrics: %w", err)
	}

	return nil
}
