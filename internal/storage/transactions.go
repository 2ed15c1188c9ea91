package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// tradeColumns is the select list shared by the filing-store trade queries.
// Only transactions on completed filings are visible to the engine.
const tradeColumns = `
	SELECT t.id, t.filing_id,
	       i.id, i.cik, i.name, COALESCE(i.trading_symbol, ''), COALESCE(i.sector, ''),
	       p.id, p.cik, p.name,
	       t.transaction_date, t.transaction_code, t.acquired_disposed_code,
	       t.shares_transacted, t.price_per_share,
	       COALESCE(t.transaction_value, t.shares_transacted * t.price_per_share),
	       COALESCE(t.shares_owned_following, 0),
	       t.direct_or_indirect, t.is_10b5_1_plan,
	       r.is_officer, r.is_director, r.is_ten_percent_owner,
	       COALESCE(r.officer_title, '')
	FROM insider_transactions t
	JOIN filings f ON f.id = t.filing_id AND f.status = 'completed'
	JOIN issuers i ON i.id = f.issuer_id
	JOIN person_relationships r ON r.filing_id = t.filing_id
	JOIN persons p ON p.id = r.person_id`

// QualifyingPurchases returns open-market purchases with valid price and
// shares whose transaction date falls within [from, to].
func (db *DB) QualifyingPurchases(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	query := tradeColumns + `
	WHERE t.transaction_code = 'P'
	  AND t.acquired_disposed_code = 'A'
	  AND t.price_per_share IS NOT NULL AND t.price_per_share > 0
	  AND t.shares_transacted IS NOT NULL AND t.shares_transacted > 0
	  AND t.transaction_date BETWEEN $1 AND $2
	ORDER BY i.id, t.transaction_date`

	rows, err := db.Pool.Query(ctx, query, toDate(from), toDate(to))
	if err != nil {
		return nil, fmt.Errorf("query qualifying purchases: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ScorableTrades returns purchases and sales (grants excluded) with valid
// price and shares within [from, to], for importance scoring.
func (db *DB) ScorableTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	query := tradeColumns + `
	WHERE t.transaction_code <> 'A'
	  AND t.price_per_share IS NOT NULL AND t.price_per_share > 0
	  AND t.shares_transacted IS NOT NULL AND t.shares_transacted > 0
	  AND t.transaction_date BETWEEN $1 AND $2
	ORDER BY t.transaction_date`

	rows, err := db.Pool.Query(ctx, query, toDate(from), toDate(to))
	if err != nil {
		return nil, fmt.Errorf("query scorable trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// PriorPurchaseExists reports whether the person made a qualifying purchase
// of the issuer in [from, to]. Used by the first-buy negative existence check;
// the criteria intentionally match QualifyingPurchases.
func (db *DB) PriorPurchaseExists(ctx context.Context, personID, issuerID int64, from, to time.Time) (bool, error) {
	const query = `
	SELECT EXISTS (
		SELECT 1
		FROM insider_transactions t
		JOIN filings f ON f.id = t.filing_id AND f.status = 'completed'
		JOIN person_relationships r ON r.filing_id = t.filing_id
		WHERE r.person_id = $1
		  AND f.issuer_id = $2
		  AND t.transaction_code = 'P'
		  AND t.acquired_disposed_code = 'A'
		  AND t.price_per_share IS NOT NULL AND t.price_per_share > 0
		  AND t.shares_transacted IS NOT NULL AND t.shares_transacted > 0
		  AND t.transaction_date BETWEEN $3 AND $4
	)`

	var exists bool
	if err := db.Pool.QueryRow(ctx, query, personID, issuerID, toDate(from), toDate(to)).Scan(&exists); err != nil {
		return false, fmt.Errorf("prior purchase exists: %w", err)
	}

	return exists, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}

		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}

	return trades, nil
}

func scanTrade(rows pgx.Rows) (domain.Trade, error) {
	var (
		t          domain.Trade
		date       time.Time
		directness string
	)

	err := rows.Scan(
		&t.TransactionID, &t.FilingID,
		&t.IssuerID, &t.IssuerCIK, &t.IssuerName, &t.IssuerTicker, &t.IssuerSector,
		&t.PersonID, &t.PersonCIK, &t.PersonName,
		&date, &t.Code, &t.AcquiredDisposed,
		&t.Shares, &t.Price, &t.Value,
		&t.SharesOwnedFollowing,
		&directness, &t.Is10b51Plan,
		&t.IsOfficer, &t.IsDirector, &t.IsTenPercentOwner,
		&t.OfficerTitle,
	)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("scan trade: %w", err)
	}

	t.Date = date
	t.Indirect = directness == "I"

	return t, nil
}
