package notify

import (
	"strings"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// Skip reasons, used for logging and the skip counter.
const (
	skipTypeDisabled = "type_disabled"
	skipBelowMinimum = "below_threshold"
	skipNotWatched   = "not_watched"
	skipExcluded     = "excluded"
	skipSectorMiss   = "sector_mismatch"
)

// clusterEligible applies one user's thresholds and filters to a cluster
// signal. All thresholds must pass; the exclude list is a hard veto.
func clusterEligible(p domain.Preference, c domain.ClusterBuySignal) (bool, string) {
	if !p.ClusterBuyAlerts {
		return false, skipTypeDisabled
	}

	if c.TotalInsiders < p.ClusterMinInsiders ||
		c.TotalValue < p.ClusterMinValue ||
		c.SignalStrength < p.ClusterMinStrength {
		return false, skipBelowMinimum
	}

	if matchesCompanyList(p.ExcludedCompanies, c.IssuerCIK, c.Ticker) {
		return false, skipExcluded
	}

	if p.WatchedCompanies != "" && !matchesCompanyList(p.WatchedCompanies, c.IssuerCIK, c.Ticker) {
		return false, skipNotWatched
	}

	if p.WatchedSectors != "" && !matchesToken(p.WatchedSectors, c.Sector) {
		return false, skipSectorMiss
	}

	return true, ""
}

// tradeEligible applies one user's thresholds and filters to an important
// trade or first buy. The sector filter applies to cluster buys only.
func tradeEligible(p domain.Preference, kind string, c domain.TradeSignalContext) (bool, string) {
	switch kind {
	case domain.SignalImportantTrade:
		if !p.ImportantTradeAlerts {
			return false, skipTypeDisabled
		}
	case domain.SignalFirstBuy:
		if !p.FirstBuyAlerts {
			return false, skipTypeDisabled
		}
	}

	if c.ImportanceScore < p.ImportantTradeMinScore {
		return false, skipBelowMinimum
	}

	if matchesCompanyList(p.ExcludedCompanies, c.IssuerCIK, c.Ticker) {
		return false, skipExcluded
	}

	if p.WatchedCompanies != "" && !matchesCompanyList(p.WatchedCompanies, c.IssuerCIK, c.Ticker) {
		return false, skipNotWatched
	}

	return true, ""
}

// matchesCompanyList reports whether any comma-separated token equals the
// issuer's CIK or ticker, case-insensitively.
func matchesCompanyList(list, cik, ticker string) bool {
	for _, token := range splitTokens(list) {
		if strings.EqualFold(token, cik) || (ticker != "" && strings.EqualFold(token, ticker)) {
			return true
		}
	}

	return false
}

func matchesToken(list, value string) bool {
	for _, token := range splitTokens(list) {
		if strings.EqualFold(token, value) {
			return true
		}
	}

	return false
}

func splitTokens(list string) []string {
	if list == "" {
		return nil
	}

	parts := strings.Split(list, ",")
	tokens := make([]string, 0, len(parts))

	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}

	return tokens
}
