package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/core/domain"
	coreerrors "github.com/form4watch/signal-engine/internal/core/errors"
	"github.com/form4watch/signal-engine/internal/mail"
	"github.com/form4watch/signal-engine/internal/platform/clock"
	"github.com/form4watch/signal-engine/internal/platform/observability"
)

// DispatcherStore is the storage surface the dispatch cycle needs.
type DispatcherStore interface {
	EnabledPreferences(ctx context.Context) ([]domain.Preference, error)
	PendingRealtime(ctx context.Context, limit int) ([]domain.QueueEntry, error)
	PendingForUser(ctx context.Context, userID string) ([]domain.QueueEntry, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkCancelled(ctx context.Context, id, reason string) error
	RecordFailure(ctx context.Context, id, errMsg string, maxAttempts int) (string, error)
	SentCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	InsertHistory(ctx context.Context, userID, notificationType string, signalID int64, subject string, at time.Time) error
	HasDigest(ctx context.Context, userID string, day time.Time) (bool, error)
	InsertDigest(ctx context.Context, id, userID string, day time.Time, entryCount int, at time.Time) error
	CountPending(ctx context.Context) (int, error)
	PruneQueue(ctx context.Context, cutoff time.Time) (int64, error)
}

// DispatcherConfig tunes one dispatch cycle.
type DispatcherConfig struct {
	BatchSize     int
	MaxRetries    int
	DigestWindow  time.Duration
	RetentionDays int
}

// DispatchResult summarizes one dispatch cycle for logging.
type DispatchResult struct {
	Sent      int
	Failed    int
	Cancelled int
	Digests   int
	Pruned    int64
}

// Dispatcher drains the notification queue: real-time entries are sent
// individually in priority order, digest-mode users get one combined message
// when their configured time comes around. Delivery problems for one entry or
// one user never block the rest of the batch.
type Dispatcher struct {
	store  DispatcherStore
	sender mail.Sender
	clk    clock.Clock
	cfg    DispatcherConfig
	logger *zerolog.Logger
}

func NewDispatcher(store DispatcherStore, sender mail.Sender, clk clock.Clock, cfg DispatcherConfig, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		clk:    clk,
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes one dispatch cycle.
func (d *Dispatcher) Run(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult

	prefs, err := d.store.EnabledPreferences(ctx)
	if err != nil {
		return res, fmt.Errorf("load preferences: %w", err)
	}

	byUser := make(map[string]domain.Preference, len(prefs))
	for _, p := range prefs {
		byUser[p.UserID] = p
	}

	if err := d.runRealtime(ctx, byUser, &res); err != nil {
		return res, err
	}

	d.runDigests(ctx, prefs, &res)

	pruned, err := d.store.PruneQueue(ctx, d.clk.Now().AddDate(0, 0, -d.cfg.RetentionDays))
	if err != nil {
		d.logger.Error().Err(err).Msg("prune queue failed")
	} else {
		res.Pruned = pruned
	}

	if backlog, err := d.store.CountPending(ctx); err == nil {
		observability.QueueBacklog.Set(float64(backlog))
	}

	return res, nil
}

func (d *Dispatcher) runRealtime(ctx context.Context, prefs map[string]domain.Preference, res *DispatchResult) error {
	entries, err := d.store.PendingRealtime(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}

	// Daily-cap counts are cached per user for the duration of the batch and
	// bumped locally on each send, so a burst within one cycle still respects
	// the cap.
	sentToday := make(map[string]int)

	for _, e := range entries {
		pref, ok := prefs[e.UserID]
		if !ok || pref.Email == "" {
			d.cancel(ctx, e.ID, "no deliverable preference", res)

			continue
		}

		count, known := sentToday[e.UserID]
		if !known {
			count, err = d.store.SentCountSince(ctx, e.UserID, d.clk.Now().Add(-24*time.Hour))
			if err != nil {
				d.logger.Error().Err(err).Str("user_id", e.UserID).Msg("sent count lookup failed")

				continue
			}

			sentToday[e.UserID] = count
		}

		if pref.MaxAlertsPerDay > 0 && count >= pref.MaxAlertsPerDay {
			d.cancel(ctx, e.ID, coreerrors.ErrDailyCapReached.Error(), res)

			continue
		}

		if d.deliver(ctx, e, pref, res) {
			sentToday[e.UserID]++
		}
	}

	return nil
}

// deliver sends one entry and reports whether it counted against the cap.
func (d *Dispatcher) deliver(ctx context.Context, e domain.QueueEntry, pref domain.Preference, res *DispatchResult) bool {
	err := d.sender.Send(ctx, mail.Message{
		To:      pref.Email,
		Subject: e.Subject,
		Text:    e.BodyText,
		HTML:    e.BodyHTML,
	})
	if err != nil {
		status, ferr := d.store.RecordFailure(ctx, e.ID, err.Error(), d.cfg.MaxRetries)
		if ferr != nil {
			d.logger.Error().Err(ferr).Str("id", e.ID).Msg("record failure failed")

			return false
		}

		if status == domain.StatusFailed {
			res.Failed++
			observability.NotificationsSent.WithLabelValues(domain.StatusFailed).Inc()
		}

		d.logger.Warn().Err(err).
			Str("id", e.ID).
			Str("user_id", e.UserID).
			Str("status", status).
			Msg("notification send failed")

		return false
	}

	now := d.clk.Now()
	if err := d.store.MarkSent(ctx, e.ID, now); err != nil {
		d.logger.Error().Err(err).Str("id", e.ID).Msg("mark sent failed")

		return false
	}

	if err := d.store.InsertHistory(ctx, e.UserID, e.Type, e.SignalID, e.Subject, now); err != nil {
		d.logger.Error().Err(err).Str("id", e.ID).Msg("insert history failed")
	}

	res.Sent++
	observability.NotificationsSent.WithLabelValues(domain.StatusSent).Inc()

	return true
}

func (d *Dispatcher) cancel(ctx context.Context, id, reason string, res *DispatchResult) {
	if err := d.store.MarkCancelled(ctx, id, reason); err != nil {
		d.logger.Error().Err(err).Str("id", id).Msg("mark cancelled failed")

		return
	}

	res.Cancelled++
	observability.NotificationsSent.WithLabelValues(domain.StatusCancelled).Inc()
}

func (d *Dispatcher) runDigests(ctx context.Context, prefs []domain.Preference, res *DispatchResult) {
	now := d.clk.Now()

	for _, p := range prefs {
		if !p.DigestMode || p.Email == "" {
			continue
		}

		due, err := digestDue(now, p.DigestTime, d.cfg.DigestWindow)
		if err != nil {
			d.logger.Warn().Err(err).Str("user_id", p.UserID).Str("digest_time", p.DigestTime).
				Msg("skipping digest with bad configured time")

			continue
		}

		if !due {
			continue
		}

		if err := d.sendDigest(ctx, p, res); err != nil {
			d.logger.Error().Err(err).Str("user_id", p.UserID).Msg("digest failed")
			observability.DigestsSent.WithLabelValues(domain.StatusFailed).Inc()
		}
	}
}

func (d *Dispatcher) sendDigest(ctx context.Context, p domain.Preference, res *DispatchResult) error {
	now := d.clk.Now()
	// Calendar day in the clock's location, matching how digestDue anchors
	// the configured time.
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	already, err := d.store.HasDigest(ctx, p.UserID, day)
	if err != nil {
		return fmt.Errorf("check digest: %w", err)
	}

	if already {
		return nil
	}

	entries, err := d.store.PendingForUser(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	msg := renderDigest(entries, day)

	if err := d.sender.Send(ctx, mail.Message{
		To:      p.Email,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	sentAt := d.clk.Now()
	for _, e := range entries {
		if err := d.store.MarkSent(ctx, e.ID, sentAt); err != nil {
			d.logger.Error().Err(err).Str("id", e.ID).Msg("mark sent failed")

			continue
		}

		if err := d.store.InsertHistory(ctx, e.UserID, e.Type, e.SignalID, e.Subject, sentAt); err != nil {
			d.logger.Error().Err(err).Str("id", e.ID).Msg("insert history failed")
		}

		res.Sent++
		observability.NotificationsSent.WithLabelValues(domain.StatusSent).Inc()
	}

	if err := d.store.InsertDigest(ctx, uuid.NewString(), p.UserID, day, len(entries), sentAt); err != nil {
		return fmt.Errorf("record digest: %w", err)
	}

	res.Digests++
	observability.DigestsSent.WithLabelValues(domain.StatusSent).Inc()

	return nil
}

// digestDue reports whether now falls within the window around the user's
// configured HH:MM delivery time.
func digestDue(now time.Time, digestTime string, window time.Duration) (bool, error) {
	t, err := time.Parse("15:04", digestTime)
	if err != nil {
		return false, fmt.Errorf("%w: %q", coreerrors.ErrInvalidDigestTime, digestTime)
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}

	return diff <= window, nil
}
