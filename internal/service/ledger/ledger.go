package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
)

// Service owns the balance operations that do not belong to a multi-step
// flow: registration hook, credits, transfers and account reset. All
// mutations go through the repository's atomic statements; this layer adds
// transaction scoping only.
type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *Service {
	return &Service{storage: storage}
}

// Register creates the ledger entry with zero balances
func (s *Service) Register(ctx context.Context, userID int64) (models.User, error) {
	u, err := s.storage.User().CreateUser(ctx, userID)
	if err != nil {
		return u, fmt.Errorf("can't create ledger entry: %w", err)
	}
	return u, nil
}

func (s *Service) GetEntry(ctx context.Context, userID int64) (models.User, error) {
	return s.storage.User().GetUser(ctx, userID)
}

// Credit adds to the spendable balance (deposit approvals, refunds issued
// by an operator)
func (s *Service) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	if !amount.IsPositive() {
		return models.User{}, fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	return s.storage.User().Credit(ctx, userID, amount)
}

// CreditBonus adds to the bonus balance. Bonus funds are play-only and are
// never withdrawable.
func (s *Service) CreditBonus(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	if !amount.IsPositive() {
		return models.User{}, fmt.Errorf("bonus amount must be positive, got %s", amount)
	}
	return s.storage.User().CreditBonus(ctx, userID, amount)
}

// Transfer moves amount between two users: conditional debit on the sender
// and credit on the receiver inside one transaction, so a failed credit
// can not leave the sender debited.
func (s *Service) Transfer(ctx context.Context, fromID int64, toID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	if fromID == toID {
		return fmt.Errorf("can't transfer to self")
	}

	return s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.User().Debit(ctx, fromID, amount); err != nil {
			return err
		}
		if _, err := st.User().Credit(ctx, toID, amount); err != nil {
			return err
		}
		return nil
	})
}

// StartFlow replaces whatever flow the user has active. Last-writer-wins:
// a stale partially collected flow is dropped, never merged.
func (s *Service) StartFlow(ctx context.Context, userID int64, flow string, state []byte) error {
	switch flow {
	case models.FlowWithdrawal, models.FlowDeposit, models.FlowTransfer,
		models.FlowRegistration, models.FlowUsernameChange:
	default:
		return fmt.Errorf("unknown flow %q", flow)
	}
	return s.storage.User().StartFlow(ctx, userID, flow, state)
}

func (s *Service) ClearFlow(ctx context.Context, userID int64) error {
	return s.storage.User().ClearFlow(ctx, userID)
}

// ActiveFlow returns the user's flow descriptor and its serialized state
func (s *Service) ActiveFlow(ctx context.Context, userID int64) (string, []byte, error) {
	u, err := s.storage.User().GetUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return u.ActiveFlow, u.FlowState, nil
}

// Reset is the explicit account reset: zero balances, no active flow.
// The audit collections are untouched.
func (s *Service) Reset(ctx context.Context, userID int64) error {
	err := s.storage.User().Reset(ctx, userID)
	if err != nil {
		return fmt.Errorf("can't reset account %d: %w", userID, err)
	}
	return nil
}

// IsRegistered reports whether the user has a ledger entry
func (s *Service) IsRegistered(ctx context.Context, userID int64) (bool, error) {
	_, err := s.storage.User().GetUser(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}
