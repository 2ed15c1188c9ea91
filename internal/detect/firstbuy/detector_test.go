package firstbuy

import (
	"context"
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
	candidates []domain.Trade
	// priorPurchases maps "person/issuer" to the dates of earlier purchases
	// outside the candidate set.
	priorPurchases map[string][]time.Time

	signals         map[int64]domain.FirstBuySignal
	nextID          int64
	deactivateSince time.Time
	deactivateKeep  []int64
}

func pairKey(personID, issuerID int64) string {
	return fmt.Sprintf("%d/%d", personID, issuerID)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		priorPurchases: make(map[string][]time.Time),
		signals:        make(map[int64]domain.FirstBuySignal),
	}
}

func (f *fakeStore) QualifyingPurchases(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	var out []domain.Trade

	for _, t := range f.candidates {
		if !t.Date.Before(from) && !t.Date.After(to) {
			out = append(out, t)
		}
	}

	return out, nil
}

func (f *fakeStore) PriorPurchaseExists(_ context.Context, personID, issuerID int64, from, to time.Time) (bool, error) {
	for _, d := range f.priorPurchases[pairKey(personID, issuerID)] {
		if !d.Before(from) && !d.After(to) {
			return true, nil
		}
	}

	return false, nil
}

func (f *fakeStore) UpsertFirstBuy(_ context.Context, s domain.FirstBuySignal) (int64, bool, error) {
	for id, existing := range f.signals {
		if existing.TransactionID == s.TransactionID {
			s.ID = id
			f.signals[id] = s

			return id, false, nil
		}
	}

	f.nextID++
	s.ID = f.nextID
	f.signals[s.ID] = s

	return s.ID, true, nil
}

func (f *fakeStore) DeactivateFirstBuysNotIn(_ context.Context, since time.Time, keep []int64) error {
	f.deactivateSince = since
	f.deactivateKeep = keep

	return nil
}

type fakeNotifier struct {
	signalIDs []int64
}

func (f *fakeNotifier) FirstBuyDetected(_ context.Context, id int64) error {
	f.signalIDs = append(f.signalIDs, id)

	return nil
}

func testDetector(store Store, notifier Notifier, now time.Time) *Detector {
	logger := zerolog.Nop()

	return New(store, notifier, &clock.Fixed{T: now}, Config{
		RecentDays:        30,
		LookbackDays:      365,
		ClusterWindowDays: 3,
	}, &logger)
}

func candidate(txID, personID, issuerID int64, date time.Time, value float64) domain.Trade {
	return domain.Trade{
		TransactionID:    txID,
		PersonID:         personID,
		IssuerID:         issuerID,
		Date:             date,
		Code:             domain.CodePurchase,
		AcquiredDisposed: domain.Acquired,
		Shares:           value / 20,
		Price:            20,
		Value:            value,
	}
}

func TestDetectorFlagsFirstBuy(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.candidates = []domain.Trade{candidate(1, 100, 1, now.AddDate(0, 0, -3), 500_000)}
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.New)
	require.Len(t, store.signals, 1)

	s := store.signals[1]
	assert.Equal(t, int64(1), s.TransactionID)
	assert.Equal(t, 365, s.LookbackDays)
	assert.False(t, s.IsPartOfCluster)
	// 20 value + 30 direction + 40 first-buy bonus
	assert.Equal(t, 90, s.ImportanceScore)

	assert.Equal(t, []int64{1}, notifier.signalIDs)
	assert.Equal(t, []int64{1}, store.deactivateKeep)
}

func TestDetectorSkipsRepeatBuyer(t *testing.T) {
	// A purchase on day 100 with an earlier purchase of the same issuer on
	// day 50 is not a first buy.
	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := epoch.AddDate(0, 0, 110)

	store := newFakeStore()
	store.candidates = []domain.Trade{candidate(1, 100, 1, epoch.AddDate(0, 0, 100), 500_000)}
	store.priorPurchases[pairKey(100, 1)] = []time.Time{epoch.AddDate(0, 0, 50)}
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.New)
	assert.Empty(t, store.signals)
	assert.Empty(t, notifier.signalIDs)
	assert.Empty(t, store.deactivateKeep)
}

func TestDetectorIgnoresPurchaseBeyondLookback(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := epoch.AddDate(0, 0, 400)

	store := newFakeStore()
	store.candidates = []domain.Trade{candidate(1, 100, 1, now.AddDate(0, 0, -5), 500_000)}
	// Last purchase 380 days before the candidate, outside the horizon.
	store.priorPurchases[pairKey(100, 1)] = []time.Time{now.AddDate(0, 0, -385)}
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.New)
}

func TestDetectorMarksClusterMembership(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -3)

	store := newFakeStore()
	store.candidates = []domain.Trade{
		candidate(1, 100, 1, date, 500_000),
		candidate(2, 101, 1, date.AddDate(0, 0, 1), 300_000),
	}
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.New)

	for _, s := range store.signals {
		assert.True(t, s.IsPartOfCluster)
		assert.Equal(t, 2, s.ClusterSize)
	}
}

func TestDetectorCountsCoBuyersBeforeWindowStart(t *testing.T) {
	// A candidate near the window start can have co-buyers within the cluster
	// window but before the candidate window; they still count toward
	// cluster_size as the candidate ages.
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	windowStart := now.AddDate(0, 0, -30)

	store := newFakeStore()
	store.candidates = []domain.Trade{
		candidate(1, 100, 1, windowStart.AddDate(0, 0, 1), 500_000),
		// Same issuer two days before the window start, within ±3 days of the
		// candidate. Not a candidate itself, but a co-buyer.
		candidate(2, 101, 1, windowStart.AddDate(0, 0, -2), 300_000),
	}
	notifier := &fakeNotifier{}

	res, err := testDetector(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed, "pre-window purchase is not a candidate")
	require.Len(t, store.signals, 1)

	s := store.signals[1]
	assert.Equal(t, 2, s.ClusterSize)
	assert.True(t, s.IsPartOfCluster)
	// 20 value + 30 direction + 15 cluster + 40 first-buy bonus
	assert.Equal(t, 105, s.ImportanceScore)
}

func TestDetectorRerunUpdatesInPlace(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.candidates = []domain.Trade{candidate(1, 100, 1, now.AddDate(0, 0, -3), 500_000)}
	notifier := &fakeNotifier{}
	d := testDetector(store, notifier, now)

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.New)
	assert.Equal(t, 1, res.Updated)
	assert.Len(t, store.signals, 1)
	assert.Len(t, notifier.signalIDs, 1, "updates do not re-notify")
}
