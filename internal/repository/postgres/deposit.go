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

type DepositRepo struct {
	DB DBTX
}

func rowToDeposit(row pgx.CollectableRow) (models.Deposit, error) {
	var d models.Deposit
	err := row.Scan(
		&d.Ref, &d.UserID, &d.Amount, &d.Channel, &d.NotificationID,
		&d.BalanceBefore, &d.BalanceAfter, &d.Approved, &d.CreatedAt,
	)
	return d, err
}

// Ref is the primary key: the loser of a duplicate-claim race hits the
// unique violation here and no balance change happens for it
const createDeposit = `-- name: CreateDeposit
INSERT INTO deposits (ref, user_id, amount, channel, notification_id, balance_before, balance_after, approved, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ref, user_id, amount, channel, notification_id, balance_before, balance_after, approved, created_at
`

func (r *DepositRepo) Create(ctx context.Context, d models.Deposit) (models.Deposit, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createDeposit,
		d.Ref, d.UserID, d.Amount, d.Channel, d.NotificationID,
		d.BalanceBefore, d.BalanceAfter, d.Approved, d.CreatedAt,
	)
	d, err := pgx.CollectOneRow(rows, rowToDeposit)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return d, apperrors.ErrDuplicateTransaction
		}
		return d, fmt.Errorf("db error: %w", err)
	}

	return d, nil
}

const getDepositByRef = `-- name: GetDepositByRef
SELECT ref, user_id, amount, channel, notification_id, balance_before, balance_after, approved, created_at
FROM deposits
WHERE ref = $1
`

func (r *DepositRepo) GetByRef(ctx context.Context, ref string) (models.Deposit, error) {
	rows, _ := r.DB.Query(ctx, getDepositByRef, ref)
	d, err := pgx.CollectOneRow(rows, rowToDeposit)

	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, pgx.ErrNoRows):
		return d, apperrors.ErrDepositNotFound
	default:
		return d, fmt.Errorf("db error: %w", err)
	}
}

const listDepositsByUser = `-- name: ListDepositsByUser
SELECT ref, user_id, amount, channel, notification_id, balance_before, balance_after, approved, created_at
FROM deposits
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

func (r *DepositRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Deposit, error) {
	rows, _ := r.DB.Query(ctx, listDepositsByUser, userID, limit)
	ds, err := pgx.CollectRows(rows, rowToDeposit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ds, nil
}
