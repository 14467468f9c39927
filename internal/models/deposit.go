package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deposit is the immutable audit record of a matched deposit claim.
// Ref is the transaction reference extracted from the proof text; its
// uniqueness guarantees a notification can fund at most one deposit.
type Deposit struct {
	Ref            string
	UserID         int64
	Amount         decimal.Decimal
	Channel        string
	NotificationID uuid.UUID
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	Approved       bool
	CreatedAt      time.Time
}
