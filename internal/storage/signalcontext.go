package storage

import (
	"context"
	"fmt"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// ImportantTradeContext loads one importance signal with the person, issuer
// and transaction context needed for notification rendering.
func (db *DB) ImportantTradeContext(ctx context.Context, signalID int64) (domain.TradeSignalContext, error) {
	const query = `
	SELECT s.id, s.transaction_id,
	       i.cik, i.name, COALESCE(i.trading_symbol, ''), COALESCE(i.sector, ''),
	       p.name, COALESCE(r.officer_title, ''),
	       s.trade_date, t.shares_transacted, t.price_per_share,
	       COALESCE(t.transaction_value, 0),
	       s.importance_score, s.is_purchase, s.is_first_buy, s.cluster_size
	FROM important_trade_signals s
	JOIN insider_transactions t ON t.id = s.transaction_id
	JOIN issuers i ON i.id = s.issuer_id
	JOIN persons p ON p.id = s.person_id
	LEFT JOIN person_relationships r ON r.filing_id = t.filing_id AND r.person_id = s.person_id
	WHERE s.id = $1`

	var c domain.TradeSignalContext

	err := db.Pool.QueryRow(ctx, query, signalID).Scan(
		&c.SignalID, &c.TransactionID,
		&c.IssuerCIK, &c.IssuerName, &c.Ticker, &c.Sector,
		&c.PersonName, &c.OfficerTitle,
		&c.Date, &c.Shares, &c.Price, &c.Value,
		&c.ImportanceScore, &c.IsPurchase, &c.IsFirstBuy, &c.ClusterSize,
	)
	if err != nil {
		return domain.TradeSignalContext{}, fmt.Errorf("important trade context %d: %w", signalID, err)
	}

	return c, nil
}

// FirstBuyContext loads one first-buy signal with rendering context.
func (db *DB) FirstBuyContext(ctx context.Context, signalID int64) (domain.TradeSignalContext, error) {
	const query = `
	SELECT s.id, s.transaction_id,
	       i.cik, i.name, COALESCE(i.trading_symbol, ''), COALESCE(i.sector, ''),
	       p.name, COALESCE(r.officer_title, ''),
	       s.trade_date, t.shares_transacted, t.price_per_share,
	       COALESCE(t.transaction_value, 0),
	       s.importance_score, TRUE, TRUE, s.cluster_size
	FROM first_buy_signals s
	JOIN insider_transactions t ON t.id = s.transaction_id
	JOIN issuers i ON i.id = s.issuer_id
	JOIN persons p ON p.id = s.person_id
	LEFT JOIN person_relationships r ON r.filing_id = t.filing_id AND r.person_id = s.person_id
	WHERE s.id = $1`

	var c domain.TradeSignalContext

	err := db.Pool.QueryRow(ctx, query, signalID).Scan(
		&c.SignalID, &c.TransactionID,
		&c.IssuerCIK, &c.IssuerName, &c.Ticker, &c.Sector,
		&c.PersonName, &c.OfficerTitle,
		&c.Date, &c.Shares, &c.Price, &c.Value,
		&c.ImportanceScore, &c.IsPurchase, &c.IsFirstBuy, &c.ClusterSize,
	)
	if err != nil {
		return domain.TradeSignalContext{}, fmt.Errorf("first buy context %d: %w", signalID, err)
	}

	return c, nil
}
