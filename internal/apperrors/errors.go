package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrBalanceInsufficient = errors.New("insufficient balance")
	ErrDailyLimitReached   = errors.New("daily withdrawal limit reached")

	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	ErrDepositNotFound        = errors.New("deposit not found")
	ErrDuplicateTransaction   = errors.New("transaction reference already used")
	ErrProofUnreadable        = errors.New("no transaction reference in proof text")
	ErrNoMatchingNotification = errors.New("no pending notification matches")
	ErrNotificationConsumed   = errors.New("notification already processed")

	ErrFlowNotActive = errors.New("no active flow of this kind")
)
