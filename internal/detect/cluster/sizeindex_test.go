package cluster

import (
	"testing"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

func buy(issuerID, personID int64, date time.Time) domain.Trade {
	return domain.Trade{
		IssuerID:         issuerID,
		PersonID:         personID,
		Date:             date,
		Code:             domain.CodePurchase,
		AcquiredDisposed: domain.Acquired,
	}
}

func TestSizeIndex(t *testing.T) {
	base := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	purchases := []domain.Trade{
		buy(1, 100, base),
		buy(1, 101, base.AddDate(0, 0, 2)),
		buy(1, 102, base.AddDate(0, 0, -3)),
		buy(1, 103, base.AddDate(0, 0, 4)), // outside ±3 of base
		buy(1, 100, base.AddDate(0, 0, 1)), // same person twice
		buy(2, 200, base),
	}

	idx := NewSizeIndex(purchases, 3)

	tests := []struct {
		name     string
		issuerID int64
		date     time.Time
		want     int
	}{
		{"distinct persons within window", 1, base, 3},
		{"window shifts with the query date", 1, base.AddDate(0, 0, 4), 3},
		{"other issuer isolated", 2, base, 1},
		{"unknown issuer", 3, base, 0},
		{"far away date", 1, base.AddDate(0, 0, 30), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idx.Size(tt.issuerID, tt.date); got != tt.want {
				t.Errorf("Size(%d, %s) = %d, want %d", tt.issuerID, tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestSizeIndexIgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 6, 10, 22, 30, 0, 0, time.UTC)

	idx := NewSizeIndex([]domain.Trade{buy(1, 100, morning)}, 0)

	if got := idx.Size(1, evening); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}
