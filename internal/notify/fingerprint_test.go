package notify

import (
	"testing"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

func TestFingerprintDeterministic(t *testing.T) {
	date := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	a := Fingerprint(domain.SignalClusterBuy, 42, date)
	b := Fingerprint(domain.SignalClusterBuy, 42, date)

	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}

	if len(a) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(a))
	}
}

func TestFingerprintIgnoresTimeOfDay(t *testing.T) {
	// Re-detection in a later cycle carries a different timestamp on the same
	// calendar date; the fingerprint must not change or dedup breaks.
	morning := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 6, 10, 23, 59, 0, 0, time.UTC)

	if Fingerprint(domain.SignalClusterBuy, 42, morning) != Fingerprint(domain.SignalClusterBuy, 42, evening) {
		t.Error("fingerprint changed with time of day")
	}
}

func TestFingerprintDistinguishesSignals(t *testing.T) {
	date := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	base := Fingerprint(domain.SignalClusterBuy, 42, date)

	variants := map[string]string{
		"different type": Fingerprint(domain.SignalFirstBuy, 42, date),
		"different id":   Fingerprint(domain.SignalClusterBuy, 43, date),
		"different date": Fingerprint(domain.SignalClusterBuy, 42, date.AddDate(0, 0, 1)),
	}

	for name, fp := range variants {
		if fp == base {
			t.Errorf("%s collided with base fingerprint", name)
		}
	}
}
