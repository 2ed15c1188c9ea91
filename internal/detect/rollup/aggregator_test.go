package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/platform/clock"
)

type fakeStore struct {
	historyDays []string
	metricsDays []string
	failDay     string
}

func (f *fakeStore) UpsertDailyHistory(_ context.Context, day time.Time) error {
	key := day.Format("2006-01-02")
	if key == f.failDay {
		return errors.New("boom")
	}

	f.historyDays = append(f.historyDays, key)

	return nil
}

func (f *fakeStore) UpsertIssuerMetrics(_ context.Context, day time.Time) error {
	f.metricsDays = append(f.metricsDays, day.Format("2006-01-02"))

	return nil
}

func TestAggregatorCoversTrailingWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	logger := zerolog.Nop()

	res, err := New(store, &clock.Fixed{T: now}, 7, &logger).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Days != 7 || res.Failed != 0 {
		t.Errorf("Result = %+v, want 7 days, 0 failed", res)
	}

	if len(store.historyDays) != 7 || len(store.metricsDays) != 7 {
		t.Fatalf("rollups ran for %d/%d days, want 7/7", len(store.historyDays), len(store.metricsDays))
	}

	if store.historyDays[0] != "2026-06-15" || store.historyDays[6] != "2026-06-09" {
		t.Errorf("window boundaries wrong: %v", store.historyDays)
	}
}

func TestAggregatorContinuesPastFailedDay(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{failDay: "2026-06-13"}
	logger := zerolog.Nop()

	res, err := New(store, &clock.Fixed{T: now}, 5, &logger).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}

	if len(store.historyDays) != 4 {
		t.Errorf("history days = %v, want 4 successful days", store.historyDays)
	}
}
