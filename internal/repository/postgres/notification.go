package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
)

type NotificationRepo struct {
	DB DBTX
}

func rowToNotification(row pgx.CollectableRow) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.Body, &n.Source, &n.Status, &n.ReceivedAt)
	return n, err
}

const createNotification = `-- name: CreateNotification
INSERT INTO inbound_notifications (id, body, source, status, received_at)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING id, body, source, status, received_at
`

func (r *NotificationRepo) Create(ctx context.Context, body string, source string) (models.Notification, error) {
	rows, _ := r.DB.Query(ctx, createNotification, uuid.New(), body, source, time.Now())
	n, err := pgx.CollectOneRow(rows, rowToNotification)
	if err != nil {
		return n, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// A claim matches when the body carries both the extracted reference and
// one of the amount patterns. Oldest first, so stale receipts are consumed
// before fresh ones.
const findPendingMatch = `-- name: FindPendingMatch
SELECT id, body, source, status, received_at
FROM inbound_notifications
WHERE status = 'pending'
  AND position($1 in body) > 0
  AND EXISTS (
    SELECT 1 FROM unnest($2::text[]) AS p(pattern)
    WHERE body ~ p.pattern
  )
ORDER BY received_at
LIMIT 1
`

func (r *NotificationRepo) FindPendingMatch(ctx context.Context, ref string, amountPatterns []string) (models.Notification, error) {
	rows, _ := r.DB.Query(ctx, findPendingMatch, ref, amountPatterns)
	n, err := pgx.CollectOneRow(rows, rowToNotification)

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, pgx.ErrNoRows):
		return n, apperrors.ErrNoMatchingNotification
	default:
		return n, fmt.Errorf("db error: %w", err)
	}
}

// Guarded on the pending status: under two racing claims only one UPDATE
// flips the row, the other sees zero rows affected
const markNotificationProcessed = `-- name: MarkNotificationProcessed
UPDATE inbound_notifications
SET status = 'processed'
WHERE id = $1 AND status = 'pending'
`

func (r *NotificationRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, markNotificationProcessed, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotificationConsumed
	}
	return nil
}
