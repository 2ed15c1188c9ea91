package notify

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form4watch/signal-engine/internal/core/domain"
	"github.com/form4watch/signal-engine/internal/mail"
	"github.com/form4watch/signal-engine/internal/platform/clock"
)

type historyRow struct {
	userID string
	sentAt time.Time
}

type fakeDispatcherStore struct {
	prefs   []domain.Preference
	queue   map[string]*domain.QueueEntry
	history []historyRow
	digests map[string]int
}

func newFakeDispatcherStore() *fakeDispatcherStore {
	return &fakeDispatcherStore{
		queue:   make(map[string]*domain.QueueEntry),
		digests: make(map[string]int),
	}
}

func (f *fakeDispatcherStore) add(e domain.QueueEntry) {
	e.Status = domain.StatusPending
	f.queue[e.ID] = &e
}

func (f *fakeDispatcherStore) EnabledPreferences(context.Context) ([]domain.Preference, error) {
	return f.prefs, nil
}

func (f *fakeDispatcherStore) digestMode(userID string) bool {
	for _, p := range f.prefs {
		if p.UserID == userID {
			return p.DigestMode
		}
	}

	return false
}

func (f *fakeDispatcherStore) pending(filter func(*domain.QueueEntry) bool) []domain.QueueEntry {
	var out []domain.QueueEntry

	for _, e := range f.queue {
		if e.Status == domain.StatusPending && filter(e) {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

func (f *fakeDispatcherStore) PendingRealtime(_ context.Context, limit int) ([]domain.QueueEntry, error) {
	out := f.pending(func(e *domain.QueueEntry) bool { return !f.digestMode(e.UserID) })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f *fakeDispatcherStore) PendingForUser(_ context.Context, userID string) ([]domain.QueueEntry, error) {
	return f.pending(func(e *domain.QueueEntry) bool { return e.UserID == userID }), nil
}

func (f *fakeDispatcherStore) MarkSent(_ context.Context, id string, at time.Time) error {
	f.queue[id].Status = domain.StatusSent
	f.queue[id].SentAt = &at

	return nil
}

func (f *fakeDispatcherStore) MarkCancelled(_ context.Context, id, reason string) error {
	f.queue[id].Status = domain.StatusCancelled
	f.queue[id].Error = reason

	return nil
}

func (f *fakeDispatcherStore) RecordFailure(_ context.Context, id, errMsg string, maxAttempts int) (string, error) {
	e := f.queue[id]
	e.Attempts++
	e.Error = errMsg

	if e.Attempts >= maxAttempts {
		e.Status = domain.StatusFailed
	}

	return e.Status, nil
}

func (f *fakeDispatcherStore) SentCountSince(_ context.Context, userID string, since time.Time) (int, error) {
	var count int

	for _, h := range f.history {
		if h.userID == userID && !h.sentAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func (f *fakeDispatcherStore) InsertHistory(_ context.Context, userID, _ string, _ int64, _ string, at time.Time) error {
	f.history = append(f.history, historyRow{userID: userID, sentAt: at})

	return nil
}

func (f *fakeDispatcherStore) HasDigest(_ context.Context, userID string, day time.Time) (bool, error) {
	_, ok := f.digests[userID+"/"+day.Format("2006-01-02")]

	return ok, nil
}

func (f *fakeDispatcherStore) InsertDigest(_ context.Context, _, userID string, day time.Time, entryCount int, _ time.Time) error {
	f.digests[userID+"/"+day.Format("2006-01-02")] = entryCount

	return nil
}

func (f *fakeDispatcherStore) CountPending(context.Context) (int, error) {
	return len(f.pending(func(*domain.QueueEntry) bool { return true })), nil
}

func (f *fakeDispatcherStore) PruneQueue(_ context.Context, cutoff time.Time) (int64, error) {
	var pruned int64

	for id, e := range f.queue {
		if e.CreatedAt.Before(cutoff) {
			delete(f.queue, id)

			pruned++
		}
	}

	return pruned, nil
}

func entry(id, userID string, priority int, createdAt time.Time) domain.QueueEntry {
	return domain.QueueEntry{
		ID:          id,
		UserID:      userID,
		Type:        domain.SignalClusterBuy,
		Priority:    priority,
		SignalID:    1,
		Fingerprint: id,
		Subject:     "Cluster buy: " + id,
		BodyText:    "text",
		BodyHTML:    "<p>html</p>",
		CreatedAt:   createdAt,
	}
}

func testDispatcher(store DispatcherStore, sender mail.Sender, now time.Time) *Dispatcher {
	logger := zerolog.Nop()

	return NewDispatcher(store, sender, &clock.Fixed{T: now}, DispatcherConfig{
		BatchSize:     100,
		MaxRetries:    3,
		DigestWindow:  5 * time.Minute,
		RetentionDays: 30,
	}, &logger)
}

func TestDispatcherSendsPendingInOrder(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{basePref()}
	store.add(entry("low", "u1", 2, now.Add(-2*time.Hour)))
	store.add(entry("high", "u1", 10, now.Add(-time.Hour)))

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sent)

	sent := sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Cluster buy: high", sent[0].Subject)
	assert.Equal(t, "u1@example.com", sent[0].To)
	assert.Equal(t, domain.StatusSent, store.queue["high"].Status)
	assert.Len(t, store.history, 2)
}

func TestDispatcherEnforcesDailyCap(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	pref := basePref()
	pref.MaxAlertsPerDay = 2

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{pref}
	// One delivery 23h ago counts against the rolling 24h window; one 25h ago
	// does not.
	store.history = []historyRow{
		{userID: "u1", sentAt: now.Add(-23 * time.Hour)},
		{userID: "u1", sentAt: now.Add(-25 * time.Hour)},
	}
	store.add(entry("a", "u1", 8, now.Add(-2*time.Hour)))
	store.add(entry("b", "u1", 6, now.Add(-time.Hour)))

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, domain.StatusSent, store.queue["a"].Status)
	assert.Equal(t, domain.StatusCancelled, store.queue["b"].Status)
	assert.NotEmpty(t, store.queue["b"].Error)
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{basePref()}
	store.add(entry("a", "u1", 8, now.Add(-time.Hour)))

	sender := mail.NewFakeSender()
	sender.FailWith(errors.New("smtp down"))

	d := testDispatcher(store, sender, now)

	for i := 0; i < 2; i++ {
		res, err := d.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Sent)
		assert.Equal(t, domain.StatusPending, store.queue["a"].Status, "stays pending for retry")
	}

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.StatusFailed, store.queue["a"].Status)
	assert.Equal(t, 3, store.queue["a"].Attempts)
	assert.Empty(t, sender.Sent())
}

func TestDispatcherCancelsOrphanedEntries(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeDispatcherStore()
	store.add(entry("a", "gone", 8, now.Add(-time.Hour)))

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, domain.StatusCancelled, store.queue["a"].Status)
}

func TestDispatcherDigestFlow(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 2, 0, 0, time.UTC)

	pref := basePref()
	pref.DigestMode = true
	pref.DigestTime = "09:00"

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{pref}
	store.add(entry("a", "u1", 8, now.Add(-3*time.Hour)))
	store.add(entry("b", "u1", 6, now.Add(-2*time.Hour)))

	sender := mail.NewFakeSender()
	d := testDispatcher(store, sender, now)

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Digests)
	assert.Equal(t, 2, res.Sent, "both entries marked sent through the digest")

	sent := sender.Sent()
	require.Len(t, sent, 1, "one combined message")
	assert.Contains(t, sent[0].Subject, "2 alerts")
	assert.Contains(t, sent[0].Text, "Cluster buy: a")
	assert.Contains(t, sent[0].Text, "Cluster buy: b")

	// A second run the same day must not send another digest.
	store.add(entry("c", "u1", 4, now))

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Digests)
	assert.Len(t, sender.Sent(), 1)
}

func TestDispatcherDigestUsesLocalCalendarDay(t *testing.T) {
	// 02:00 on June 15 in a +10:00 zone is still June 14 in UTC; the
	// one-per-day guard must key the user's calendar day, not the UTC one.
	loc := time.FixedZone("UTC+10", 10*60*60)
	now := time.Date(2026, 6, 15, 2, 0, 0, 0, loc)

	pref := basePref()
	pref.DigestMode = true
	pref.DigestTime = "02:00"

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{pref}
	store.add(entry("a", "u1", 8, now.Add(-3*time.Hour)))

	sender := mail.NewFakeSender()
	d := testDispatcher(store, sender, now)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Digests)

	assert.Contains(t, store.digests, "u1/2026-06-15")

	// A rerun within the same local day stays suppressed.
	store.add(entry("b", "u1", 6, now))

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Digests)
	assert.Len(t, sender.Sent(), 1)
}

func TestDispatcherDigestOutsideWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)

	pref := basePref()
	pref.DigestMode = true
	pref.DigestTime = "09:00"

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{pref}
	store.add(entry("a", "u1", 8, now.Add(-time.Hour)))

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Digests)
	assert.Empty(t, sender.Sent())
	assert.Equal(t, domain.StatusPending, store.queue["a"].Status)
}

func TestDispatcherPrunesTerminalEntries(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{basePref()}

	old := entry("old", "u1", 2, now.AddDate(0, 0, -40))
	store.add(old)
	store.queue["old"].Status = domain.StatusSent

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Pruned)
	assert.NotContains(t, store.queue, "old")
}

func TestDispatcherPrunesStalePendingEntries(t *testing.T) {
	// A pending entry older than retention that no flow will deliver (here a
	// digest user outside their window) must not be retained forever.
	now := time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)

	pref := basePref()
	pref.DigestMode = true
	pref.DigestTime = "09:00"

	store := newFakeDispatcherStore()
	store.prefs = []domain.Preference{pref}
	store.add(entry("stale", "u1", 2, now.AddDate(0, 0, -40)))

	sender := mail.NewFakeSender()

	res, err := testDispatcher(store, sender, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, int64(1), res.Pruned)
	assert.NotContains(t, store.queue, "stale")
}

func TestDigestDue(t *testing.T) {
	window := 5 * time.Minute

	tests := []struct {
		name    string
		now     time.Time
		at      string
		want    bool
		wantErr bool
	}{
		{"inside window after", time.Date(2026, 6, 15, 9, 4, 0, 0, time.UTC), "09:00", true, false},
		{"inside window before", time.Date(2026, 6, 15, 8, 56, 0, 0, time.UTC), "09:00", true, false},
		{"exactly on time", time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC), "09:00", true, false},
		{"outside window", time.Date(2026, 6, 15, 9, 6, 0, 0, time.UTC), "09:00", false, false},
		{"malformed time", time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC), "9 o'clock", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := digestDue(tt.now, tt.at, window)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
