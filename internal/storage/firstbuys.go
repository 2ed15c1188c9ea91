package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// UpsertFirstBuy inserts or updates the first-buy row keyed by transaction id
// and reports whether the row is new.
func (db *DB) UpsertFirstBuy(ctx context.Context, s domain.FirstBuySignal) (id int64, inserted bool, err error) {
	const query = `
	INSERT INTO first_buy_signals (
		transaction_id, issuer_id, person_id, trade_date,
		lookback_days, importance_score, is_part_of_cluster, cluster_size,
		is_active, last_updated
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, now())
	ON CONFLICT (transaction_id) DO UPDATE SET
		lookback_days = EXCLUDED.lookback_days,
		importance_score = EXCLUDED.importance_score,
		is_part_of_cluster = EXCLUDED.is_part_of_cluster,
		cluster_size = EXCLUDED.cluster_size,
		is_active = TRUE,
		last_updated = now()
	RETURNING id, (xmax = 0)`

	err = db.Pool.QueryRow(ctx, query,
		s.TransactionID, s.IssuerID, s.PersonID, toDate(s.Date),
		s.LookbackDays, s.ImportanceScore, s.IsPartOfCluster, s.ClusterSize,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert first buy %d: %w", s.TransactionID, err)
	}

	return id, inserted, nil
}

// DeactivateFirstBuysNotIn marks active first-buy rows in the recent window
// inactive when their transaction is absent from this cycle's detected set.
func (db *DB) DeactivateFirstBuysNotIn(ctx context.Context, since time.Time, keep []int64) error {
	const query = `
	UPDATE first_buy_signals
	SET is_active = FALSE, last_updated = now()
	WHERE is_active AND trade_date >= $1 AND NOT (transaction_id = ANY($2))`

	if keep == nil {
		keep = []int64{}
	}

	if _, err := db.Pool.Exec(ctx, query, toDate(since), keep); err != nil {
		return fmt.Errorf("deactivate first buys: %w", err)
	}

	return nil
}

// FirstBuys returns active first-buy rows at or above the score threshold
// dated on or after since, newest first. Read contract for the API
// collaborator.
func (db *DB) FirstBuys(ctx context.Context, since time.Time, minScore, limit int) ([]domain.FirstBuySignal, error) {
	const query = `
	SELECT id, transaction_id, issuer_id, person_id, trade_date,
	       lookback_days, importance_score, is_part_of_cluster, cluster_size, is_active
	FROM first_buy_signals
	WHERE is_active AND trade_date >= $1 AND importance_score >= $2
	ORDER BY trade_date DESC, importance_score DESC
	LIMIT $3`

	rows, err := db.Pool.Query(ctx, query, toDate(since), minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("query first buys: %w", err)
	}
	defer rows.Close()

	var signals []domain.FirstBuySignal

	for rows.Next() {
		var s domain.FirstBuySignal

		err := rows.Scan(
			&s.ID, &s.TransactionID, &s.IssuerID, &s.PersonID, &s.Date,
			&s.LookbackDays, &s.ImportanceScore, &s.IsPartOfCluster, &s.ClusterSize, &s.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan first buy: %w", err)
		}

		signals = append(signals, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate first buys: %w", err)
	}

	return signals, nil
}
