package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Flow descriptors. A user has at most one active flow at a time.
const (
	FlowNone           = ""
	FlowWithdrawal     = "withdrawal"
	FlowDeposit        = "deposit"
	FlowTransfer       = "transfer"
	FlowRegistration   = "registration"
	FlowUsernameChange = "username_change"
)

// User is the ledger entry for a single chat user.
// Balance is the spendable amount; Bonus is tracked separately and is
// never eligible for withdrawal.
type User struct {
	ID         int64
	CreatedAt  time.Time
	Balance    decimal.Decimal
	Bonus      decimal.Decimal
	ActiveFlow string
	FlowState  []byte
}

// HasFlow reports whether the user currently holds the given flow descriptor.
func (u User) HasFlow(flow string) bool {
	return u.ActiveFlow == flow && flow != FlowNone
}
