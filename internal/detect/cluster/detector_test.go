package cluster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form4watch/signal-engine/internal/core/domain"
	"github.com/form4watch/signal-engine/internal/platform/clock"
)

type fakeStore struct {
	trades   []domain.Trade
	clusters map[string]domain.ClusterBuySignal
	lines    map[int64][]domain.ClusterBuyTrade
	nextID   int64

	failUpsertIssuer int64
	pruned           int
	deactivated      int
}

func newFakeStore(trades []domain.Trade) *fakeStore {
	return &fakeStore{
		trades:   trades,
		clusters: make(map[string]domain.ClusterBuySignal),
		lines:    make(map[int64][]domain.ClusterBuyTrade),
	}
}

func clusterKey(issuerID int64, date time.Time) string {
	return fmt.Sprintf("%d/%s", issuerID, date.Format("2006-01-02"))
}

func (f *fakeStore) DeactivateAllClusters(context.Context) error {
	f.deactivated++

	return nil
}

func (f *fakeStore) QualifyingPurchases(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	var out []domain.Trade

	for _, t := range f.trades {
		if !t.Date.Before(from) && !t.Date.After(to) {
			out = append(out, t)
		}
	}

	return out, nil
}

func (f *fakeStore) UpsertCluster(_ context.Context, c domain.ClusterBuySignal) (int64, bool, error) {
	if c.IssuerID == f.failUpsertIssuer {
		return 0, false, errors.New("boom")
	}

	key := clusterKey(c.IssuerID, c.Date)
	if existing, ok := f.clusters[key]; ok {
		c.ID = existing.ID
		f.clusters[key] = c

		return c.ID, false, nil
	}

	f.nextID++
	c.ID = f.nextID
	f.clusters[key] = c

	return c.ID, true, nil
}

func (f *fakeStore) ReplaceClusterTrades(_ context.Context, clusterID int64, trades []domain.ClusterBuyTrade) error {
	f.lines[clusterID] = trades

	return nil
}

func (f *fakeStore) PruneInactiveClusters(context.Context, time.Time) (int64, error) {
	f.pruned++

	return 0, nil
}

func (f *fakeStore) CountActiveClusters(context.Context) (int, error) {
	return len(f.clusters), nil
}

type fakeNotifier struct {
	clusterIDs []int64
	err        error
}

func (f *fakeNotifier) ClusterDetected(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}

	f.clusterIDs = append(f.clusterIDs, id)

	return nil
}

func namedBuy(issuerID, personID int64, date time.Time, value float64, title string) domain.Trade {
	t := domain.Trade{
		TransactionID:    issuerID*1000 + personID,
		IssuerID:         issuerID,
		PersonID:         personID,
		Date:             date,
		Code:             domain.CodePurchase,
		AcquiredDisposed: domain.Acquired,
		Shares:           value / 10,
		Price:            10,
		Value:            value,
	}

	if title != "" {
		t.IsOfficer = true
		t.OfficerTitle = title
	}

	return t
}

func testDetector(store Store, notifier Notifier, now time.Time) *Detector {
	logger := zerolog.Nop()

	return New(store, notifier, &clock.Fixed{T: now}, Config{
		LookbackDays:        90,
		WindowDays:          3,
		RenotifyMinStrength: 70,
		RetentionDays:       30,
	}, &logger)
}

func TestDetectorCreatesCluster(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 2_000_000, "Chief Executive Officer"),
		namedBuy(1, 101, date, 1_000_000, ""),
		namedBuy(1, 102, date, 1_000_000, ""),
	})
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 0, res.Failed)

	require.Len(t, store.clusters, 1)

	for _, c := range store.clusters {
		assert.Equal(t, 3, c.TotalInsiders)
		assert.True(t, c.HasCEOBuy)
		assert.Equal(t, 4_000_000.0, c.TotalValue)
		assert.GreaterOrEqual(t, c.SignalStrength, 0)
		assert.LessOrEqual(t, c.SignalStrength, 100)
		assert.Len(t, store.lines[c.ID], 3)
	}

	assert.Len(t, notifier.clusterIDs, 1, "new cluster notifies once")
	assert.Equal(t, 1, store.deactivated)
	assert.Equal(t, 1, store.pruned)
}

func TestDetectorSkipsSingleInsider(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -2)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 5_000_000, ""),
		namedBuy(1, 100, date, 1_000_000, ""),
	})
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, store.clusters)
	assert.Empty(t, notifier.clusterIDs)
}

func TestDetectorRerunIsIdempotent(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 200_000, ""),
		namedBuy(1, 101, date, 200_000, ""),
	})
	notifier := &fakeNotifier{}
	d := testDetector(store, notifier, now)

	first, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.New)

	second, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 1, second.Updated)

	assert.Len(t, store.clusters, 1, "rerun must not duplicate the row")
	// Weak cluster updates do not re-notify.
	assert.Len(t, notifier.clusterIDs, 1)
}

func TestDetectorRenotifiesStrongUpdate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 6_000_000, "Chief Executive Officer"),
		namedBuy(1, 101, date, 5_000_000, "Chief Financial Officer"),
		namedBuy(1, 102, date, 2_000_000, "VP Sales"),
	})
	notifier := &fakeNotifier{}
	d := testDetector(store, notifier, now)

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, notifier.clusterIDs, 2, "strong cluster re-notifies on update")
}

func TestDetectorGroupFailureDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 200_000, ""),
		namedBuy(1, 101, date, 200_000, ""),
		namedBuy(2, 200, date, 200_000, ""),
		namedBuy(2, 201, date, 200_000, ""),
	})
	store.failUpsertIssuer = 1
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.New)
	assert.Len(t, store.clusters, 1)
}

func TestDetectorNotifierFailureKeepsSignal(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	store := newFakeStore([]domain.Trade{
		namedBuy(1, 100, date, 200_000, ""),
		namedBuy(1, 101, date, 200_000, ""),
	})
	notifier := &fakeNotifier{err: errors.New("queue down")}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.New)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, store.clusters, 1)
}

func TestGroupByIssuerDateSkipsPreLookbackTrades(t *testing.T) {
	lookbackStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		namedBuy(1, 100, lookbackStart.AddDate(0, 0, 1), 100_000, ""),
		namedBuy(1, 101, lookbackStart.AddDate(0, 0, 1), 100_000, ""),
		namedBuy(1, 102, lookbackStart.AddDate(0, 0, -2), 100_000, ""),
	}

	groups := groupByIssuerDate(trades, lookbackStart)

	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Trades, 2)
}
