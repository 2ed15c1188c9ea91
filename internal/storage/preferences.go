package storage

import (
	"context"
	"fmt"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// EnabledPreferences returns preference rows for users with notifications
// enabled. Preferences are owned by the external account system; the engine
// only reads them, once per orchestration run.
func (db *DB) EnabledPreferences(ctx context.Context) ([]domain.Preference, error) {
	const query = `
	SELECT user_id, email, notifications_enabled,
	       cluster_buy_alerts, important_trade_alerts, first_buy_alerts,
	       cluster_min_insiders, cluster_min_value, cluster_min_strength,
	       important_trade_min_score,
	       digest_mode, digest_time, max_alerts_per_day,
	       watched_companies, watched_sectors, excluded_companies
	FROM user_alert_preferences
	WHERE notifications_enabled`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []domain.Preference

	for rows.Next() {
		var p domain.Preference

		err := rows.Scan(
			&p.UserID, &p.Email, &p.NotificationsEnabled,
			&p.ClusterBuyAlerts, &p.ImportantTradeAlerts, &p.FirstBuyAlerts,
			&p.ClusterMinInsiders, &p.ClusterMinValue, &p.ClusterMinStrength,
			&p.ImportantTradeMinScore,
			&p.DigestMode, &p.DigestTime, &p.MaxAlertsPerDay,
			&p.WatchedCompanies, &p.WatchedSectors, &p.ExcludedCompanies,
		)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}

		prefs = append(prefs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}

	return prefs, nil
}
