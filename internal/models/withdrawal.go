package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusFailed    = "failed"
)

// Payout channels. Automated channels are executed by the settlement
// worker; the rest stay pending for manual review.
const (
	ChannelBank   = "bank"
	ChannelWallet = "wallet"
	ChannelAgent  = "agent" // paid out by a human operator
)

// Withdrawal is the audit record of a payout request. It is created only
// after the amount has been debited from the user's balance, so the record
// and the debit never diverge. Rows are never deleted.
type Withdrawal struct {
	ID            uuid.UUID
	Ref           string
	UserID        int64
	Amount        decimal.Decimal
	Channel       string
	Account       string
	Status        string
	SettlementRef *string
	Reviewed      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// KnownChannel reports whether the code names a payout channel at all.
func KnownChannel(channel string) bool {
	switch channel {
	case ChannelBank, ChannelWallet, ChannelAgent:
		return true
	default:
		return false
	}
}

// ChannelAutomated reports whether withdrawals on the channel are driven
// through the payout executor.
func ChannelAutomated(channel string) bool {
	switch channel {
	case ChannelBank, ChannelWallet:
		return true
	default:
		return false
	}
}
