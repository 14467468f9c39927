package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
)

type WithdrawalRepo struct {
	DB DBTX
}

func rowToWithdrawal(row pgx.CollectableRow) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID, &w.Ref, &w.UserID, &w.Amount, &w.Channel, &w.Account,
		&w.Status, &w.SettlementRef, &w.Reviewed, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

const createWithdrawal = `-- name: CreateWithdrawal
INSERT INTO withdrawals (id, ref, user_id, amount, channel, account, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id, ref, user_id, amount, channel, account, status, settlement_ref, reviewed, created_at, updated_at
`

func (r *WithdrawalRepo) Create(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Status == "" {
		w.Status = models.WithdrawalStatusPending
	}

	rows, _ := r.DB.Query(ctx, createWithdrawal, w.ID, w.Ref, w.UserID, w.Amount, w.Channel, w.Account, w.Status, w.CreatedAt)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return w, apperrors.ErrDuplicateTransaction
		}
		return w, fmt.Errorf("db error: %w", err)
	}

	return w, nil
}

const getWithdrawalByRef = `-- name: GetWithdrawalByRef
SELECT id, ref, user_id, amount, channel, account, status, settlement_ref, reviewed, created_at, updated_at
FROM withdrawals
WHERE ref = $1
`

func (r *WithdrawalRepo) GetByRef(ctx context.Context, ref string) (models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, getWithdrawalByRef, ref)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const setWithdrawalStatus = `-- name: SetWithdrawalStatus
UPDATE withdrawals
SET status = $2, settlement_ref = COALESCE($3, settlement_ref), updated_at = now()
WHERE ref = $1
RETURNING id, ref, user_id, amount, channel, account, status, settlement_ref, reviewed, created_at, updated_at
`

func (r *WithdrawalRepo) SetStatus(ctx context.Context, ref string, status string, settlementRef *string) (models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, setWithdrawalStatus, ref, status, settlementRef)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const listWithdrawalsByUser = `-- name: ListWithdrawalsByUser
SELECT id, ref, user_id, amount, channel, account, status, settlement_ref, reviewed, created_at, updated_at
FROM withdrawals
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

func (r *WithdrawalRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, listWithdrawalsByUser, userID, limit)
	ws, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ws, nil
}

// Pending rows count too; only a failed (refunded) withdrawal frees its slot
const countActiveSince = `-- name: CountActiveSince
SELECT count(*) FROM withdrawals
WHERE user_id = $1 AND status IN ('pending', 'completed') AND created_at >= $2
`

func (r *WithdrawalRepo) CountActiveSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, countActiveSince, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

const markWithdrawalReviewed = `-- name: MarkWithdrawalReviewed
UPDATE withdrawals
SET reviewed = TRUE, updated_at = now()
WHERE ref = $1
`

func (r *WithdrawalRepo) MarkReviewed(ctx context.Context, ref string) error {
	tag, err := r.DB.Exec(ctx, markWithdrawalReviewed, ref)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrWithdrawalNotFound
	}
	return nil
}

const listUnreviewed = `-- name: ListUnreviewed
SELECT id, ref, user_id, amount, channel, account, status, settlement_ref, reviewed, created_at, updated_at
FROM withdrawals
WHERE reviewed = FALSE AND status <> 'pending'
ORDER BY created_at
LIMIT $1
`

func (r *WithdrawalRepo) ListUnreviewed(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, listUnreviewed, limit)
	ws, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ws, nil
}
