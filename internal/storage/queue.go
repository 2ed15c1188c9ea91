package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// EnqueueNotification inserts a queue entry with ignore-on-conflict semantics
// against the (user, fingerprint) unique constraint and reports whether a row
// was inserted. This is the system's sole guarantee against double-alerting
// when the same signal is re-evaluated in a later cycle.
func (db *DB) EnqueueNotification(ctx context.Context, e domain.QueueEntry) (bool, error) {
	const query = `
	INSERT INTO notification_queue (
		id, user_id, notification_type, priority, signal_id, signal_fingerprint,
		subject, body_text, body_html, status, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
	ON CONFLICT (user_id, signal_fingerprint) DO NOTHING`

	tag, err := db.Pool.Exec(ctx, query,
		e.ID, e.UserID, e.Type, e.Priority, e.SignalID, e.Fingerprint,
		e.Subject, e.BodyText, e.BodyHTML, toTimestamptz(e.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

const queueColumns = `
	SELECT q.id, q.user_id, q.notification_type, q.priority, q.signal_id,
	       q.signal_fingerprint, q.subject, q.body_text, q.body_html,
	       q.status, q.attempts, COALESCE(q.error_message, ''), q.created_at, q.sent_at
	FROM notification_queue q`

// PendingRealtime returns up to limit pending entries for users in real-time
// (non-digest) mode, highest priority first, oldest first within a priority.
func (db *DB) PendingRealtime(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	query := queueColumns + `
	JOIN user_alert_preferences p ON p.user_id = q.user_id
	WHERE q.status = 'pending' AND NOT p.digest_mode
	ORDER BY q.priority DESC, q.created_at ASC
	LIMIT $1`

	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending realtime: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// PendingForUser returns all pending entries for one user, oldest first.
// Used by the digest flow.
func (db *DB) PendingForUser(ctx context.Context, userID string) ([]domain.QueueEntry, error) {
	query := queueColumns + `
	WHERE q.status = 'pending' AND q.user_id = $1
	ORDER BY q.created_at ASC`

	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query pending for user: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// MarkSent transitions an entry to sent and stamps the send time.
func (db *DB) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE notification_queue SET status = 'sent', sent_at = $2 WHERE id = $1`,
		id, toTimestamptz(at))
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", id, err)
	}

	return nil
}

// MarkCancelled transitions an entry to cancelled with a reason. Cancelled
// entries are never retried.
func (db *DB) MarkCancelled(ctx context.Context, id, reason string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE notification_queue SET status = 'cancelled', error_message = $2 WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("mark cancelled %s: %w", id, err)
	}

	return nil
}

// RecordFailure increments the attempt counter and transitions to failed once
// maxAttempts is reached; otherwise the entry stays pending for the next
// cycle. Returns the resulting status.
func (db *DB) RecordFailure(ctx context.Context, id, errMsg string, maxAttempts int) (string, error) {
	const query = `
	UPDATE notification_queue
	SET attempts = attempts + 1,
	    error_message = $2,
	    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
	WHERE id = $1
	RETURNING status`

	var status string
	if err := db.Pool.QueryRow(ctx, query, id, errMsg, maxAttempts).Scan(&status); err != nil {
		return "", fmt.Errorf("record failure %s: %w", id, err)
	}

	return status, nil
}

// SentCountSince counts deliveries to the user since the cutoff, for the
// rolling daily cap.
func (db *DB) SentCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notification_history WHERE user_id = $1 AND sent_at >= $2`,
		userID, toTimestamptz(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sent count for %s: %w", userID, err)
	}

	return count, nil
}

// InsertHistory appends one delivery log row.
func (db *DB) InsertHistory(ctx context.Context, userID, notificationType string, signalID int64, subject string, at time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO notification_history (user_id, notification_type, signal_id, subject, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, notificationType, signalID, subject, toTimestamptz(at))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	return nil
}

// HasDigest reports whether the user already received a digest for the day.
func (db *DB) HasDigest(ctx context.Context, userID string, day time.Time) (bool, error) {
	var exists bool

	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_digests WHERE user_id = $1 AND digest_date = $2)`,
		userID, toDate(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has digest for %s: %w", userID, err)
	}

	return exists, nil
}

// InsertDigest records the one-per-user-per-day digest marker.
func (db *DB) InsertDigest(ctx context.Context, id, userID string, day time.Time, entryCount int, at time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO notification_digests (id, user_id, digest_date, entry_count, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, userID, toDate(day), entryCount, toTimestamptz(at))
	if err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}

	return nil
}

// CountPending returns the current queue backlog for the metrics gauge.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM notification_queue WHERE status = 'pending'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}

	return count, nil
}

// PruneQueue deletes queue entries created before the cutoff, whatever their
// status. Pending entries that old are stale: either their user's preference
// row is gone (so no flow will ever pick them up) or they have been skipped
// for the whole retention window.
func (db *DB) PruneQueue(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM notification_queue WHERE created_at < $1`,
		toTimestamptz(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune queue: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanQueueEntries(rows pgx.Rows) ([]domain.QueueEntry, error) {
	var entries []domain.QueueEntry

	for rows.Next() {
		var e domain.QueueEntry

		err := rows.Scan(
			&e.ID, &e.UserID, &e.Type, &e.Priority, &e.SignalID,
			&e.Fingerprint, &e.Subject, &e.BodyText, &e.BodyHTML,
			&e.Status, &e.Attempts, &e.Error, &e.CreatedAt, &e.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}

	return entries, nil
}
