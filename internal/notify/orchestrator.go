// Package notify turns detected signals into per-user queue entries
// (orchestration) and drains the queue to the mail transport (dispatch).
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/core/domain"
	"github.com/form4watch/signal-engine/internal/platform/clock"
	"github.com/form4watch/signal-engine/internal/platform/observability"
	"github.com/form4watch/signal-engine/internal/scoring"
)

// OrchestratorStore is the storage surface orchestration needs.
type OrchestratorStore interface {
	GetCluster(ctx context.Context, id int64) (domain.ClusterBuySignal, error)
	ImportantTradeContext(ctx context.Context, signalID int64) (domain.TradeSignalContext, error)
	FirstBuyContext(ctx context.Context, signalID int64) (domain.TradeSignalContext, error)
	EnabledPreferences(ctx context.Context) ([]domain.Preference, error)
	EnqueueNotification(ctx context.Context, e domain.QueueEntry) (bool, error)
}

// Orchestrator evaluates every subscriber against a signal and inserts
// deduplicated queue entries. A failure for one user is logged and does not
// block the remaining users.
type Orchestrator struct {
	store  OrchestratorStore
	clk    clock.Clock
	logger *zerolog.Logger
}

func NewOrchestrator(store OrchestratorStore, clk clock.Clock, logger *zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		clk:    clk,
		logger: logger,
	}
}

// ClusterDetected queues alerts for a new or strengthened cluster.
func (o *Orchestrator) ClusterDetected(ctx context.Context, clusterID int64) error {
	c, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("load cluster: %w", err)
	}

	msg := renderCluster(c)
	fingerprint := Fingerprint(domain.SignalClusterBuy, c.ID, c.Date)
	priority := scoring.Priority(c.SignalStrength)

	return o.fanOut(ctx, domain.SignalClusterBuy, c.ID, fingerprint, priority, msg,
		func(p domain.Preference) (bool, string) {
			return clusterEligible(p, c)
		})
}

// ImportantTradeDetected queues alerts for a newly scored important trade.
func (o *Orchestrator) ImportantTradeDetected(ctx context.Context, signalID int64) error {
	c, err := o.store.ImportantTradeContext(ctx, signalID)
	if err != nil {
		return fmt.Errorf("load important trade: %w", err)
	}

	msg := renderTrade(domain.SignalImportantTrade, c)
	fingerprint := Fingerprint(domain.SignalImportantTrade, c.SignalID, c.Date)
	priority := scoring.Priority(c.ImportanceScore)

	return o.fanOut(ctx, domain.SignalImportantTrade, c.SignalID, fingerprint, priority, msg,
		func(p domain.Preference) (bool, string) {
			return tradeEligible(p, domain.SignalImportantTrade, c)
		})
}

// FirstBuyDetected queues alerts for a newly detected first buy.
func (o *Orchestrator) FirstBuyDetected(ctx context.Context, signalID int64) error {
	c, err := o.store.FirstBuyContext(ctx, signalID)
	if err != nil {
		return fmt.Errorf("load first buy: %w", err)
	}

	msg := renderTrade(domain.SignalFirstBuy, c)
	fingerprint := Fingerprint(domain.SignalFirstBuy, c.SignalID, c.Date)
	priority := scoring.Priority(c.ImportanceScore)

	return o.fanOut(ctx, domain.SignalFirstBuy, c.SignalID, fingerprint, priority, msg,
		func(p domain.Preference) (bool, string) {
			return tradeEligible(p, domain.SignalFirstBuy, c)
		})
}

func (o *Orchestrator) fanOut(
	ctx context.Context,
	kind string,
	signalID int64,
	fingerprint string,
	priority int,
	msg rendered,
	eligible func(domain.Preference) (bool, string),
) error {
	prefs, err := o.store.EnabledPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	for _, p := range prefs {
		ok, reason := eligible(p)
		if !ok {
			if reason != skipTypeDisabled {
				observability.NotificationsSkipped.WithLabelValues(reason).Inc()
			}

			continue
		}

		entry := domain.QueueEntry{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			Type:        kind,
			Priority:    priority,
			SignalID:    signalID,
			Fingerprint: fingerprint,
			Subject:     msg.Subject,
			BodyText:    msg.Text,
			BodyHTML:    msg.HTML,
			CreatedAt:   o.clk.Now(),
		}

		inserted, err := o.store.EnqueueNotification(ctx, entry)
		if err != nil {
			o.logger.Error().Err(err).
				Str("user_id", p.UserID).
				Int64("signal_id", signalID).
				Str("kind", kind).
				Msg("enqueue failed")

			continue
		}

		if inserted {
			observability.NotificationsQueued.WithLabelValues(kind).Inc()
		}
	}

	return nil
}
