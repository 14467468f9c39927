package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/models"
)

// User repository interface: the ledger store.
// Balance mutations are single atomic statements; there is no
// check-then-act anywhere in this interface.
type UserRepo interface {
	// Create a ledger entry with zero balances
	// If the entry exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, userID int64) (models.User, error)

	// Get ledger entry by user id
	// If not found must return apperrors.ErrUserNotFound
	GetUser(ctx context.Context, userID int64) (models.User, error)

	// Credit adds amount to the spendable balance unconditionally
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error)

	// CreditBonus adds amount to the bonus balance; bonus is never withdrawable
	CreditBonus(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error)

	// Debit subtracts amount only if balance >= amount, in one statement
	// Must return apperrors.ErrBalanceInsufficient when the predicate fails
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error)

	// DebitForWithdrawal is Debit with the daily completed-withdrawal limit
	// folded into the same conditional update, so two racing confirmations
	// can not both pass the limit. dayStart is the local-day boundary.
	// Returns apperrors.ErrBalanceInsufficient or apperrors.ErrDailyLimitReached.
	DebitForWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, dayStart time.Time, dailyLimit int) (models.User, error)

	// StartFlow sets the active flow descriptor and its serialized state.
	// Last-writer-wins: any other active flow for the user is replaced.
	StartFlow(ctx context.Context, userID int64, flow string, state []byte) error

	// SetFlowState replaces the state blob only while the given flow is
	// still the active one; otherwise apperrors.ErrFlowNotActive.
	SetFlowState(ctx context.Context, userID int64, flow string, state []byte) error

	// ClearFlow drops whatever flow is active for the user
	ClearFlow(ctx context.Context, userID int64) error

	// Reset zeroes both balances and clears the active flow
	Reset(ctx context.Context, userID int64) error
}

// Withdrawal audit records. Rows are created after the debit and never deleted.
type WithdrawalRepo interface {
	Create(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error)

	// If not found must return apperrors.ErrWithdrawalNotFound
	GetByRef(ctx context.Context, ref string) (models.Withdrawal, error)

	// SetStatus moves the record to its terminal status and stores the
	// external settlement reference when the executor returned one
	SetStatus(ctx context.Context, ref string, status string, settlementRef *string) (models.Withdrawal, error)

	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Withdrawal, error)

	// CountActiveSince counts non-failed withdrawals created since the
	// given moment. Pending rows count: an unsettled withdrawal holds its
	// daily slot; a failed one is refunded and frees it.
	CountActiveSince(ctx context.Context, userID int64, since time.Time) (int, error)

	MarkReviewed(ctx context.Context, ref string) error
	ListUnreviewed(ctx context.Context, limit int) ([]models.Withdrawal, error)
}

// Deposit audit records. Ref is the primary key; a duplicate insert must
// return apperrors.ErrDuplicateTransaction so a racing duplicate claim
// loses cleanly.
type DepositRepo interface {
	Create(ctx context.Context, d models.Deposit) (models.Deposit, error)
	GetByRef(ctx context.Context, ref string) (models.Deposit, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Deposit, error)
}

// Inbound payment notifications. Created by the external SMS relay; the
// matcher only searches and consumes them.
type NotificationRepo interface {
	Create(ctx context.Context, body string, source string) (models.Notification, error)

	// FindPendingMatch returns the oldest pending notification whose body
	// contains ref and matches at least one of the amount patterns
	// (POSIX regexes). If none matches must return
	// apperrors.ErrNoMatchingNotification.
	FindPendingMatch(ctx context.Context, ref string, amountPatterns []string) (models.Notification, error)

	// MarkProcessed consumes a notification. Guarded on status = pending;
	// an already consumed row returns apperrors.ErrNotificationConsumed.
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

type Storage interface {
	User() UserRepo
	Withdrawal() WithdrawalRepo
	Deposit() DepositRepo
	Notification() NotificationRepo

	// InTx runs fn against a Storage bound to one transaction.
	// The transaction commits if fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Storage) error) error
}
