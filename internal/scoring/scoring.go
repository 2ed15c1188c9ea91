// Package scoring implements the closed-form scoring formulas for cluster
// buys and individual trades. All functions are pure: they operate on plain
// aggregated records fetched by the storage layer, so every formula is unit
// testable without a database.
package scoring

import (
	"strings"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// Role priorities used for cluster seniority averaging.
const (
	RoleCEO     = 3
	RoleCFO     = 2
	RoleOfficer = 1
	RoleNone    = 0
)

// Strength cap for cluster signals.
const maxStrength = 100

// IsCEOTitle reports whether an officer title denotes the chief executive.
func IsCEOTitle(title string) bool {
	t := strings.ToLower(title)

	return strings.Contains(t, "ceo") || strings.Contains(t, "chief executive")
}

// IsCFOTitle reports whether an officer title denotes the chief financial
// officer.
func IsCFOTitle(title string) bool {
	t := strings.ToLower(title)

	return strings.Contains(t, "cfo") || strings.Contains(t, "chief financial")
}

// RolePriority maps a trade's filer role to its cluster seniority weight.
func RolePriority(t domain.Trade) int {
	switch {
	case t.IsOfficer && IsCEOTitle(t.OfficerTitle):
		return RoleCEO
	case t.IsOfficer && IsCFOTitle(t.OfficerTitle):
		return RoleCFO
	case t.IsOfficer:
		return RoleOfficer
	default:
		return RoleNone
	}
}

// ClusterAggregates are the per-group facts the strength formula needs.
type ClusterAggregates struct {
	Insiders           int
	TotalValue         float64
	HasCEO             bool
	HasCFO             bool
	HasTenPercentOwner bool
	AvgRolePriority    float64
}

// Aggregate computes the seniority facts for a cluster group.
func Aggregate(g domain.ClusterGroup) ClusterAggregates {
	agg := ClusterAggregates{
		Insiders:   g.DistinctInsiders(),
		TotalValue: g.TotalValue(),
	}

	var prioritySum int

	for _, t := range g.Trades {
		p := RolePriority(t)
		prioritySum += p

		if p == RoleCEO {
			agg.HasCEO = true
		}

		if p == RoleCFO {
			agg.HasCFO = true
		}

		if t.IsTenPercentOwner {
			agg.HasTenPercentOwner = true
		}
	}

	if len(g.Trades) > 0 {
		agg.AvgRolePriority = float64(prioritySum) / float64(len(g.Trades))
	}

	return agg
}

// ClusterStrength scores a cluster 0-100: insider-count tier, value tier,
// seniority, 10%-owner participation and a concentration bonus, capped at 100.
func ClusterStrength(agg ClusterAggregates) int {
	score := insiderTier(agg.Insiders) + clusterValueTier(agg.TotalValue)

	switch {
	case agg.HasCEO:
		score += 15
	case agg.HasCFO:
		score += 10
	}

	switch {
	case agg.AvgRolePriority >= 2:
		score += 10
	case agg.AvgRolePriority >= 1:
		score += 5
	}

	if agg.HasTenPercentOwner {
		score += 10
	}

	switch {
	case agg.Insiders >= 4:
		score += 10
	case agg.Insiders >= 3:
		score += 5
	}

	if score > maxStrength {
		score = maxStrength
	}

	return score
}

func insiderTier(insiders int) int {
	switch {
	case insiders >= 5:
		return 30
	case insiders == 4:
		return 25
	case insiders == 3:
		return 20
	case insiders == 2:
		return 15
	default:
		return 0
	}
}

func clusterValueTier(value float64) int {
	switch {
	case value >= 10_000_000:
		return 25
	case value >= 5_000_000:
		return 20
	case value >= 2_500_000:
		return 15
	case value >= 1_000_000:
		return 10
	case value >= 250_000:
		return 5
	default:
		return 0
	}
}

// Components are the separately stored parts of an importance score.
type Components struct {
	Value     int
	Direction int
	Role      int
	Ownership int
	Cluster   int
	Timing    int
	Penalty   int
}

// Total sums all components including penalties.
func (c Components) Total() int {
	return c.Value + c.Direction + c.Role + c.Ownership + c.Cluster + c.Timing + c.Penalty
}

// Importance scores one trade. The same formula serves the important-trade
// and first-buy paths; firstBuy adds the timing bonus.
func Importance(t domain.Trade, firstBuy bool) Components {
	c := Components{
		Value:     valueScore(t.Value),
		Direction: directionScore(t),
		Role:      roleScore(t),
		Ownership: ownershipScore(t),
		Cluster:   clusterScore(t.ClusterSize),
	}

	if firstBuy {
		c.Timing = 40
	}

	if t.Indirect {
		c.Penalty -= 10
	}

	if t.Is10b51Plan {
		c.Penalty -= 25
	}

	return c
}

func valueScore(value float64) int {
	switch {
	case value >= 10_000_000:
		return 100
	case value >= 2_500_000:
		return 60
	case value >= 1_000_000:
		return 40
	case value >= 250_000:
		return 20
	default:
		return 10
	}
}

// directionScore favors open-market purchases; sales are inherently noisier.
func directionScore(t domain.Trade) int {
	if t.IsPurchase() {
		return 30
	}

	return -10
}

func roleScore(t domain.Trade) int {
	switch {
	case t.IsOfficer && (IsCEOTitle(t.OfficerTitle) || IsCFOTitle(t.OfficerTitle)):
		return 30
	case t.IsOfficer:
		return 15
	case t.IsDirector:
		return 10
	default:
		return 0
	}
}

func ownershipScore(t domain.Trade) int {
	ratio := OwnershipRatio(t)

	switch {
	case ratio >= 0.5:
		return 30
	case ratio >= 0.25:
		return 20
	default:
		return 0
	}
}

// OwnershipRatio is shares transacted over post-transaction holdings. For
// disposals the sold shares are added back so the ratio reflects the stake
// before the sale.
func OwnershipRatio(t domain.Trade) float64 {
	base := t.SharesOwnedFollowing
	if t.AcquiredDisposed == domain.Disposed {
		base += t.Shares
	}

	if base <= 0 {
		return 0
	}

	return t.Shares / base
}

func clusterScore(size int) int {
	switch {
	case size >= 3:
		return 25
	case size >= 2:
		return 15
	default:
		return 0
	}
}

// Qualification noise floors, separate from the score itself. A trade can
// score highly yet fail to qualify; the floor gates the read-side view, the
// score ranks what passed.
const (
	purchaseFloorValue = 100_000
	largeSaleValue     = 5_000_000
	ownerFloorValue    = 1_000_000
	saleOwnershipFloor = 0.25
	clusterQualifySize = 2
)

// Qualifies applies the two-stage design's first stage: price and shares
// present and positive, not a grant, and one of the purchase/sale/10%-owner
// noise floors.
func Qualifies(t domain.Trade) bool {
	if t.Price <= 0 || t.Shares <= 0 || t.Code == domain.CodeAward {
		return false
	}

	if t.IsPurchase() {
		return t.Value >= purchaseFloorValue ||
			t.IsOfficer ||
			t.IsTenPercentOwner ||
			t.ClusterSize >= clusterQualifySize
	}

	if t.IsSale() {
		if t.Value >= largeSaleValue {
			return true
		}

		if t.IsOfficer && (IsCEOTitle(t.OfficerTitle) || IsCFOTitle(t.OfficerTitle)) {
			return true
		}

		if OwnershipRatio(t) >= saleOwnershipFloor {
			return true
		}
	}

	return t.IsTenPercentOwner && t.Value >= ownerFloorValue
}

// Priority maps a strength or importance score onto the small integer scale
// used for queue ordering.
func Priority(score int) int {
	switch {
	case score >= 90:
		return 10
	case score >= 80:
		return 8
	case score >= 70:
		return 6
	case score >= 60:
		return 4
	default:
		return 2
	}
}
