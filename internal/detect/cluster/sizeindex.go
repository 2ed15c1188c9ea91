package cluster

import (
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// SizeIndex answers "how many distinct insiders bought this issuer within the
// window around this date" from an in-memory set of qualifying purchases. It
// replaces per-trade correlated subqueries so the same co-buyer counts feed
// both cluster membership and the importance formula's cluster component.
type SizeIndex struct {
	windowDays int
	byIssuer   map[int64][]personDay
}

type personDay struct {
	personID int64
	day      time.Time
}

// NewSizeIndex builds the index from qualifying purchases.
func NewSizeIndex(purchases []domain.Trade, windowDays int) *SizeIndex {
	idx := &SizeIndex{
		windowDays: windowDays,
		byIssuer:   make(map[int64][]personDay),
	}

	for _, t := range purchases {
		idx.byIssuer[t.IssuerID] = append(idx.byIssuer[t.IssuerID], personDay{
			personID: t.PersonID,
			day:      day(t.Date),
		})
	}

	return idx
}

// Size returns the distinct insider count for the issuer within
// date ± windowDays, the trade's own person included.
func (idx *SizeIndex) Size(issuerID int64, date time.Time) int {
	entries := idx.byIssuer[issuerID]
	if len(entries) == 0 {
		return 0
	}

	center := day(date)
	lo := center.AddDate(0, 0, -idx.windowDays)
	hi := center.AddDate(0, 0, idx.windowDays)

	seen := make(map[int64]struct{})

	for _, e := range entries {
		if e.day.Before(lo) || e.day.After(hi) {
			continue
		}

		seen[e.personID] = struct{}{}
	}

	return len(seen)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
