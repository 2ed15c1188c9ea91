package storage

import (
	"context"
	"fmt"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// UpsertImportantTrade inserts or updates the importance row keyed by
// transaction id and reports whether the row is new.
func (db *DB) UpsertImportantTrade(ctx context.Context, s domain.ImportantTradeSignal) (id int64, inserted bool, err error) {
	const query = `
	INSERT INTO important_trade_signals (
		transaction_id, issuer_id, person_id, trade_date,
		importance_score, value_score, direction_score, role_score,
		ownership_score, cluster_score, timing_score,
		is_purchase, is_sale, is_first_buy, is_10b5_1_plan, cluster_size,
		is_active, last_updated
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, TRUE, now())
	ON CONFLICT (transaction_id) DO UPDATE SET
		importance_score = EXCLUDED.importance_score,
		value_score = EXCLUDED.value_score,
		direction_score = EXCLUDED.direction_score,
		role_score = EXCLUDED.role_score,
		ownership_score = EXCLUDED.ownership_score,
		cluster_score = EXCLUDED.cluster_score,
		timing_score = EXCLUDED.timing_score,
		is_purchase = EXCLUDED.is_purchase,
		is_sale = EXCLUDED.is_sale,
		is_first_buy = EXCLUDED.is_first_buy,
		is_10b5_1_plan = EXCLUDED.is_10b5_1_plan,
		cluster_size = EXCLUDED.cluster_size,
		is_active = TRUE,
		last_updated = now()
	RETURNING id, (xmax = 0)`

	err = db.Pool.QueryRow(ctx, query,
		s.TransactionID, s.IssuerID, s.PersonID, toDate(s.Date),
		s.ImportanceScore, s.ValueScore, s.DirectionScore, s.RoleScore,
		s.OwnershipScore, s.ClusterScore, s.TimingScore,
		s.IsPurchase, s.IsSale, s.IsFirstBuy, s.Is10b51Plan, s.ClusterSize,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert important trade %d: %w", s.TransactionID, err)
	}

	return id, inserted, nil
}

// ImportantTrades returns active importance rows at or above the score
// threshold, optionally purchases only, highest score first. Read contract
// for the API collaborator.
func (db *DB) ImportantTrades(ctx context.Context, minScore int, purchaseOnly bool, limit int) ([]domain.ImportantTradeSignal, error) {
	const query = `
	SELECT id, transaction_id, issuer_id, person_id, trade_date,
	       importance_score, value_score, direction_score, role_score,
	       ownership_score, cluster_score, timing_score,
	       is_purchase, is_sale, is_first_buy, is_10b5_1_plan, cluster_size, is_active
	FROM important_trade_signals
	WHERE is_active AND importance_score >= $1 AND (NOT $2 OR is_purchase)
	ORDER BY importance_score DESC, trade_date DESC
	LIMIT $3`

	rows, err := db.Pool.Query(ctx, query, minScore, purchaseOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("query important trades: %w", err)
	}
	defer rows.Close()

	var signals []domain.ImportantTradeSignal

	for rows.Next() {
		var s domain.ImportantTradeSignal

		err := rows.Scan(
			&s.ID, &s.TransactionID, &s.IssuerID, &s.PersonID, &s.Date,
			&s.ImportanceScore, &s.ValueScore, &s.DirectionScore, &s.RoleScore,
			&s.OwnershipScore, &s.ClusterScore, &s.TimingScore,
			&s.IsPurchase, &s.IsSale, &s.IsFirstBuy, &s.Is10b51Plan, &s.ClusterSize, &s.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan important trade: %w", err)
		}

		signals = append(signals, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate important trades: %w", err)
	}

	return signals, nil
}

// GetImportantTrade loads one importance row by its signal id.
func (db *DB) GetImportantTrade(ctx context.Context, id int64) (domain.ImportantTradeSignal, error) {
	const query = `
	SELECT id, transaction_id, issuer_id, person_id, trade_date,
	       importance_score, value_score, direction_score, role_score,
	       ownership_score, cluster_score, timing_score,
	       is_purchase, is_sale, is_first_buy, is_10b5_1_plan, cluster_size, is_active
	FROM important_trade_signals
	WHERE id = $1`

	var s domain.ImportantTradeSignal

	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.TransactionID, &s.IssuerID, &s.PersonID, &s.Date,
		&s.ImportanceScore, &s.ValueScore, &s.DirectionScore, &s.RoleScore,
		&s.OwnershipScore, &s.ClusterScore, &s.TimingScore,
		&s.IsPurchase, &s.IsSale, &s.IsFirstBuy, &s.Is10b51Plan, &s.ClusterSize, &s.IsActive,
	)
	if err != nil {
		return domain.ImportantTradeSignal{}, fmt.Errorf("get important trade %d: %w", id, err)
	}

	return s, nil
}
