package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = "user_id, created_at, balance, bonus, active_flow, flow_state"

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Balance, &u.Bonus, &u.ActiveFlow, &u.FlowState)
	return u, err
}

const createUser = `-- name: CreateUser
INSERT INTO users (user_id)
VALUES ($1)
RETURNING user_id, created_at, balance, bonus, active_flow, flow_state
`

func (r *UserRepo) CreateUser(ctx context.Context, userID int64) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, userID)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return u, apperrors.ErrUserAlreadyExists
		}
		return u, fmt.Errorf("db error: %w", err)
	}

	return u, nil
}

const getUser = `-- name: GetUser
SELECT user_id, created_at, balance, bonus, active_flow, flow_state FROM users
WHERE user_id = $1
`

func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUser, userID)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return u, apperrors.ErrUserNotFound
	default:
		return u, fmt.Errorf("db error: %w", err)
	}
}

const creditUser = `-- name: Credit
UPDATE users
SET balance = balance + $2
WHERE user_id = $1
RETURNING user_id, created_at, balance, bonus, active_flow, flow_state
`

func (r *UserRepo) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	rows, _ := r.DB.Query(ctx, creditUser, userID, amount)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return u, apperrors.ErrUserNotFound
	default:
		return u, fmt.Errorf("db error: %w", err)
	}
}

const creditBonus = `-- name: CreditBonus
UPDATE users
SET bonus = bonus + $2
WHERE user_id = $1
RETURNING user_id, created_at, balance, bonus, active_flow, flow_state
`

func (r *UserRepo) CreditBonus(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	rows, _ := r.DB.Query(ctx, creditBonus, userID, amount)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return u, apperrors.ErrUserNotFound
	default:
		return u, fmt.Errorf("db error: %w", err)
	}
}

// Conditional debit: the balance check and the subtraction happen in the
// same statement, so concurrent debits can not both pass on the same funds
const debitUser = `-- name: Debit
UPDATE users
SET balance = balance - $2
WHERE user_id = $1 AND balance >= $2
RETURNING user_id, created_at, balance, bonus, active_flow, flow_state
`

func (r *UserRepo) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	rows, _ := r.DB.Query(ctx, debitUser, userID, amount)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return u, r.classifyDebitMiss(ctx, userID, amount)
	default:
		return u, fmt.Errorf("db error: %w", err)
	}
}

// Same conditional debit with the daily withdrawal count folded into the
// predicate. Pending rows hold a slot: a confirm that has debited but not
// settled yet must block the next one, otherwise any number of confirms
// pass while settlement is still in flight. Failed rows are refunded and
// free their slot. Counting inside the UPDATE closes the race where two
// confirmations both read "1 of 2 used" and both commit: the second blocks
// on the row lock and re-checks the subquery after the first transaction,
// with its new pending row, has committed.
const debitForWithdrawal = `-- name: DebitForWithdrawal
UPDATE users
SET balance = balance - $2
WHERE user_id = $1
  AND balance >= $2
  AND (
    SELECT count(*) FROM withdrawals
    WHERE user_id = $1 AND status IN ('pending', 'completed') AND created_at >= $3
  ) < $4
RETURNING user_id, created_at, balance, bonus, active_flow, flow_state
`

func (r *UserRepo) DebitForWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, dayStart time.Time, dailyLimit int) (models.User, error) {
	rows, _ := r.DB.Query(ctx, debitForWithdrawal, userID, amount, dayStart, dailyLimit)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return u, r.classifyWithdrawalMiss(ctx, userID, amount, dayStart, dailyLimit)
	default:
		return u, fmt.Errorf("db error: %w", err)
	}
}

// The UPDATE is authoritative; a follow-up read only picks the error to report
func (r *UserRepo) classifyDebitMiss(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return err
	}
	return apperrors.ErrBalanceInsufficient
}

func (r *UserRepo) classifyWithdrawalMiss(ctx context.Context, userID int64, amount decimal.Decimal, dayStart time.Time, dailyLimit int) error {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Balance.LessThan(amount) {
		return apperrors.ErrBalanceInsufficient
	}

	const countActive = `
	SELECT count(*) FROM withdrawals
	WHERE user_id = $1 AND status IN ('pending', 'completed') AND created_at >= $2
	`
	var n int
	if err := r.DB.QueryRow(ctx, countActive, userID, dayStart).Scan(&n); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n >= dailyLimit {
		return apperrors.ErrDailyLimitReached
	}

	// Balance or count changed again between the UPDATE and this read
	return apperrors.ErrBalanceInsufficient
}

const startFlow = `-- name: StartFlow
UPDATE users
SET active_flow = $2, flow_state = $3
WHERE user_id = $1
`

func (r *UserRepo) StartFlow(ctx context.Context, userID int64, flow string, state []byte) error {
	tag, err := r.DB.Exec(ctx, startFlow, userID, flow, state)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

const setFlowState = `-- name: SetFlowState
UPDATE users
SET flow_state = $3
WHERE user_id = $1 AND active_flow = $2
`

func (r *UserRepo) SetFlowState(ctx context.Context, userID int64, flow string, state []byte) error {
	tag, err := r.DB.Exec(ctx, setFlowState, userID, flow, state)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrFlowNotActive
	}
	return nil
}

const clearFlow = `-- name: ClearFlow
UPDATE users
SET active_flow = '', flow_state = NULL
WHERE user_id = $1
`

func (r *UserRepo) ClearFlow(ctx context.Context, userID int64) error {
	tag, err := r.DB.Exec(ctx, clearFlow, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

const resetUser = `-- name: Reset
UPDATE users
SET balance = 0, bonus = 0, active_flow = '', flow_state = NULL
WHERE user_id = $1
`

func (r *UserRepo) Reset(ctx context.Context, userID int64) error {
	tag, err := r.DB.Exec(ctx, resetUser, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}
