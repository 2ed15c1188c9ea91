package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint derives the deterministic dedup key for a signal. It depends
// only on the signal type, id and date, so re-detecting the same signal in a
// later cycle (for example after a strength change) produces the same key and
// the (user, fingerprint) unique constraint suppresses the duplicate.
func Fingerprint(signalType string, signalID int64, date time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", signalType, signalID, date.Format("2006-01-02"))))

	return hex.EncodeToString(sum[:16])
}
