package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// DeactivateAllClusters soft-invalidates every active cluster row. The
// detector runs this before recomputation so clusters that no longer satisfy
// the criteria disappear from the active view even if the cycle aborts later.
func (db *DB) DeactivateAllClusters(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `UPDATE cluster_buy_signals SET is_active = FALSE WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate clusters: %w", err)
	}

	return nil
}

// UpsertCluster inserts or updates the cluster row keyed by
// (issuer, transaction_date) and reports whether the row is new.
func (db *DB) UpsertCluster(ctx context.Context, c domain.ClusterBuySignal) (id int64, inserted bool, err error) {
	const query = `
	INSERT INTO cluster_buy_signals (
		issuer_id, transaction_date, total_insiders, total_shares, total_value,
		signal_strength, has_ceo_buy, has_cfo_buy, has_ten_percent_owner,
		buy_window_start, buy_window_end, is_active, last_updated
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, now())
	ON CONFLICT (issuer_id, transaction_date) DO UPDATE SET
		total_insiders = EXCLUDED.total_insiders,
		total_shares = EXCLUDED.total_shares,
		total_value = EXCLUDED.total_value,
		signal_strength = EXCLUDED.signal_strength,
		has_ceo_buy = EXCLUDED.has_ceo_buy,
		has_cfo_buy = EXCLUDED.has_cfo_buy,
		has_ten_percent_owner = EXCLUDED.has_ten_percent_owner,
		buy_window_start = EXCLUDED.buy_window_start,
		buy_window_end = EXCLUDED.buy_window_end,
		is_active = TRUE,
		last_updated = now()
	RETURNING id, (xmax = 0)`

	err = db.Pool.QueryRow(ctx, query,
		c.IssuerID, toDate(c.Date), c.TotalInsiders, c.TotalShares, c.TotalValue,
		c.SignalStrength, c.HasCEOBuy, c.HasCFOBuy, c.HasTenPercentOwner,
		toDate(c.BuyWindowStart), toDate(c.BuyWindowEnd),
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert cluster: %w", err)
	}

	return id, inserted, nil
}

// ReplaceClusterTrades rebuilds a cluster's line items from scratch in one
// transaction.
func (db *DB) ReplaceClusterTrades(ctx context.Context, clusterID int64, trades []domain.ClusterBuyTrade) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace cluster trades: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM cluster_buy_trades WHERE cluster_id = $1`, clusterID); err != nil {
		return fmt.Errorf("delete cluster trades: %w", err)
	}

	const insert = `
	INSERT INTO cluster_buy_trades (
		cluster_id, transaction_id, person_name, transaction_date,
		shares, price_per_share, transaction_value,
		is_officer, is_director, is_ten_percent, officer_title
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, t := range trades {
		_, err := tx.Exec(ctx, insert,
			clusterID, t.TransactionID, t.PersonName, toDate(t.Date),
			t.Shares, t.Price, t.Value,
			t.IsOfficer, t.IsDirector, t.IsTenPercent, toText(t.OfficerTitle),
		)
		if err != nil {
			return fmt.Errorf("insert cluster trade %d: %w", t.TransactionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace cluster trades: %w", err)
	}

	return nil
}

// GetCluster loads one cluster row with issuer context.
func (db *DB) GetCluster(ctx context.Context, id int64) (domain.ClusterBuySignal, error) {
	const query = `
	SELECT c.id, c.issuer_id, i.cik, i.name, COALESCE(i.trading_symbol, ''), COALESCE(i.sector, ''),
	       c.transaction_date, c.total_insiders, c.total_shares, c.total_value,
	       c.signal_strength, c.has_ceo_buy, c.has_cfo_buy, c.has_ten_percent_owner,
	       c.buy_window_start, c.buy_window_end, c.is_active, c.created_at, c.last_updated
	FROM cluster_buy_signals c
	JOIN issuers i ON i.id = c.issuer_id
	WHERE c.id = $1`

	var c domain.ClusterBuySignal

	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.IssuerID, &c.IssuerCIK, &c.IssuerName, &c.Ticker, &c.Sector,
		&c.Date, &c.TotalInsiders, &c.TotalShares, &c.TotalValue,
		&c.SignalStrength, &c.HasCEOBuy, &c.HasCFOBuy, &c.HasTenPercentOwner,
		&c.BuyWindowStart, &c.BuyWindowEnd, &c.IsActive, &c.CreatedAt, &c.LastUpdated,
	)
	if err != nil {
		return domain.ClusterBuySignal{}, fmt.Errorf("get cluster %d: %w", id, err)
	}

	return c, nil
}

// ActiveClusters returns active clusters at or above the strength threshold,
// strongest and newest first. This is the read contract for the API
// collaborator.
func (db *DB) ActiveClusters(ctx context.Context, minStrength, limit int) ([]domain.ClusterBuySignal, error) {
	const query = `
	SELECT c.id, c.issuer_id, i.cik, i.name, COALESCE(i.trading_symbol, ''), COALESCE(i.sector, ''),
	       c.transaction_date, c.total_insiders, c.total_shares, c.total_value,
	       c.signal_strength, c.has_ceo_buy, c.has_cfo_buy, c.has_ten_percent_owner,
	       c.buy_window_start, c.buy_window_end, c.is_active, c.created_at, c.last_updated
	FROM cluster_buy_signals c
	JOIN issuers i ON i.id = c.issuer_id
	WHERE c.is_active AND c.signal_strength >= $1
	ORDER BY c.transaction_date DESC, c.signal_strength DESC
	LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, minStrength, limit)
	if err != nil {
		return nil, fmt.Errorf("query active clusters: %w", err)
	}
	defer rows.Close()

	var clusters []domain.ClusterBuySignal

	for rows.Next() {
		var c domain.ClusterBuySignal

		err := rows.Scan(
			&c.ID, &c.IssuerID, &c.IssuerCIK, &c.IssuerName, &c.Ticker, &c.Sector,
			&c.Date, &c.TotalInsiders, &c.TotalShares, &c.TotalValue,
			&c.SignalStrength, &c.HasCEOBuy, &c.HasCFOBuy, &c.HasTenPercentOwner,
			&c.BuyWindowStart, &c.BuyWindowEnd, &c.IsActive, &c.CreatedAt, &c.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active cluster: %w", err)
		}

		clusters = append(clusters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active clusters: %w", err)
	}

	return clusters, nil
}

// CountActiveClusters returns the number of active cluster rows.
func (db *DB) CountActiveClusters(ctx context.Context) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM cluster_buy_signals WHERE is_active`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active clusters: %w", err)
	}

	return count, nil
}

// PruneInactiveClusters deletes inactive cluster rows not updated since the
// cutoff. Line items cascade.
func (db *DB) PruneInactiveClusters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM cluster_buy_signals WHERE NOT is_active AND last_updated < $1`,
		toTimestamptz(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune inactive clusters: %w", err)
	}

	return tag.RowsAffected(), nil
}
