package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// UpsertDailyHistory recomputes the global signal_history row for one day
// from the signal tables.
func (db *DB) UpsertDailyHistory(ctx context.Context, day time.Time) error {
	const query = `
	WITH agg AS (
		SELECT COUNT(*) FILTER (WHERE s.is_purchase) AS buys,
		       COUNT(*) FILTER (WHERE s.is_sale) AS sells,
		       COALESCE(SUM(t.transaction_value) FILTER (WHERE s.is_purchase), 0) AS buy_value,
		       COALESCE(SUM(t.transaction_value) FILTER (WHERE s.is_sale), 0) AS sell_value,
		       COALESCE(AVG(s.importance_score), 0) AS avg_importance
		FROM important_trade_signals s
		JOIN insider_transactions t ON t.id = s.transaction_id
		WHERE s.trade_date = $1 AND s.is_active
	)
	INSERT INTO signal_history (
		day, buy_count, sell_count, buy_value, sell_value,
		cluster_count, first_buy_count, buy_sell_ratio, avg_importance, last_updated
	)
	SELECT $1, agg.buys, agg.sells, agg.buy_value, agg.sell_value,
	       (SELECT COUNT(*) FROM cluster_buy_signals c WHERE c.transaction_date = $1 AND c.is_active),
	       (SELECT COUNT(*) FROM first_buy_signals fb WHERE fb.trade_date = $1 AND fb.is_active),
	       CASE WHEN agg.sells = 0 THEN agg.buys::float8 ELSE agg.buys::float8 / agg.sells END,
	       agg.avg_importance, now()
	FROM agg
	ON CONFLICT (day) DO UPDATE SET
		buy_count = EXCLUDED.buy_count,
		sell_count = EXCLUDED.sell_count,
		buy_value = EXCLUDED.buy_value,
		sell_value = EXCLUDED.sell_value,
		cluster_count = EXCLUDED.cluster_count,
		first_buy_count = EXCLUDED.first_buy_count,
		buy_sell_ratio = EXCLUDED.buy_sell_ratio,
		avg_importance = EXCLUDED.avg_importance,
		last_updated = now()`

	if _, err := db.Pool.Exec(ctx, query, toDate(day)); err != nil {
		return fmt.Errorf("upsert daily history %s: %w", day.Format("2006-01-02"), err)
	}

	return nil
}

// UpsertIssuerMetrics recomputes issuer_signal_metrics rows for one day.
// Only issuers with at least one signal that day get a row.
func (db *DB) UpsertIssuerMetrics(ctx context.Context, day time.Time) error {
	const query = `
	INSERT INTO issuer_signal_metrics (
		issuer_id, day, buy_count, sell_count, buy_value, sell_value,
		cluster_count, first_buy_count, buy_sell_ratio, avg_importance, last_updated
	)
	SELECT s.issuer_id, $1,
	       COUNT(*) FILTER (WHERE s.is_purchase),
	       COUNT(*) FILTER (WHERE s.is_sale),
	       COALESCE(SUM(t.transaction_value) FILTER (WHERE s.is_purchase), 0),
	       COALESCE(SUM(t.transaction_value) FILTER (WHERE s.is_sale), 0),
	       (SELECT COUNT(*) FROM cluster_buy_signals c
	        WHERE c.issuer_id = s.issuer_id AND c.transaction_date = $1 AND c.is_active),
	       (SELECT COUNT(*) FROM first_buy_signals fb
	        WHERE fb.issuer_id = s.issuer_id AND fb.trade_date = $1 AND fb.is_active),
	       CASE WHEN COUNT(*) FILTER (WHERE s.is_sale) = 0
	            THEN COUNT(*) FILTER (WHERE s.is_purchase)::float8
	            ELSE COUNT(*) FILTER (WHERE s.is_purchase)::float8 / COUNT(*) FILTER (WHERE s.is_sale) END,
	       COALESCE(AVG(s.importance_score), 0), now()
	FROM important_trade_signals s
	JOIN insider_transactions t ON t.id = s.transaction_id
	WHERE s.trade_date = $1 AND s.is_active
	GROUP BY s.issuer_id
	ON CONFLICT (issuer_id, day) DO UPDATE SET
		buy_count = EXCLUDED.buy_count,
		sell_count = EXCLUDED.sell_count,
		buy_value = EXCLUDED.buy_value,
		sell_value = EXCLUDED.sell_value,
		cluster_count = EXCLUDED.cluster_count,
		first_buy_count = EXCLUDED.first_buy_count,
		buy_sell_ratio = EXCLUDED.buy_sell_ratio,
		avg_importance = EXCLUDED.avg_importance,
		last_updated = now()`

	if _, err := db.Pool.Exec(ctx, query, toDate(day)); err != nil {
		return fmt.Errorf("upsert issuer metrics %s: %w", day.Format("2006-01-02"), err)
	}

	return nil
}

// DailyHistory returns global rollup rows in [from, to], oldest first. Read
// contract for the trend endpoints.
func (db *DB) DailyHistory(ctx context.Context, from, to time.Time) ([]domain.DailyMetrics, error) {
	const query = `
	SELECT day, buy_count, sell_count, buy_value, sell_value,
	       cluster_count, first_buy_count, buy_sell_ratio, avg_importance
	FROM signal_history
	WHERE day BETWEEN $1 AND $2
	ORDER BY day`

	rows, err := db.Pool.Query(ctx, query, toDate(from), toDate(to))
	if err != nil {
		return nil, fmt.Errorf("query daily history: %w", err)
	}
	defer rows.Close()

	var metrics []domain.DailyMetrics

	for rows.Next() {
		var m domain.DailyMetrics

		err := rows.Scan(
			&m.Day, &m.BuyCount, &m.SellCount, &m.BuyValue, &m.SellValue,
			&m.ClusterCount, &m.FirstBuyCount, &m.BuySellRatio, &m.AvgImportance,
		)
		if err != nil {
			return nil, fmt.Errorf("scan daily history: %w", err)
		}

		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily history: %w", err)
	}

	return metrics, nil
}
