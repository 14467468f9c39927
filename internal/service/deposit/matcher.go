package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/logger"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
	"github.com/paydesk/paydesk/internal/service"
)

const (
	stepAwaitAmount  = "await_amount"
	stepAwaitChannel = "await_channel"
	stepAwaitProof   = "await_proof"
)

const (
	ActionCancel        = "cancel"
	actionChannelPrefix = "channel:"
)

type flowState struct {
	Step    string          `json:"step"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

// claim is what the proof step resolves; validated before touching the
// notification pool.
type claim struct {
	Channel string          `validate:"required,oneof=bank wallet"`
	Amount  decimal.Decimal `validate:"required"`
}

type Config struct {
	// MinAmount is the smallest claimable deposit
	MinAmount decimal.Decimal
}

// Service is the deposit claim matcher: it walks a user through claiming a
// payment and reconciles the claim against the pool of inbound payment
// notifications. Balance is credited only when an unconsumed notification
// carries both the extracted reference and the claimed amount.
type Service struct {
	cfg      Config
	storage  repository.Storage
	logger   logger.Logger
	validate *validator.Validate
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) *Service {
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = decimal.NewFromInt(10)
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		logger:   l,
		validate: validator.New(),
	}
}

// Handle advances the deposit conversation with one event.
func (s *Service) Handle(ctx context.Context, userID int64, ev service.Event) ([]service.Reply, error) {
	u, err := s.storage.User().GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ev.Kind == service.EventCommand {
		return s.start(ctx, u.ID)
	}

	if !u.HasFlow(models.FlowDeposit) {
		return nil, apperrors.ErrFlowNotActive
	}

	var state flowState
	if err := json.Unmarshal(u.FlowState, &state); err != nil {
		_ = s.storage.User().ClearFlow(ctx, userID)
		return nil, fmt.Errorf("corrupt deposit flow state: %w", err)
	}

	if ev.Kind == service.EventCallback && ev.Text == ActionCancel {
		if err := s.storage.User().ClearFlow(ctx, u.ID); err != nil {
			return nil, err
		}
		return []service.Reply{{Text: "Deposit cancelled."}}, nil
	}

	switch state.Step {
	case stepAwaitAmount:
		return s.acceptAmount(ctx, u.ID, state, ev)
	case stepAwaitChannel:
		return s.acceptChannel(ctx, u.ID, state, ev)
	case stepAwaitProof:
		return s.acceptProof(ctx, u.ID, state, ev)
	default:
		_ = s.storage.User().ClearFlow(ctx, u.ID)
		return nil, fmt.Errorf("unknown deposit step %q", state.Step)
	}
}

func (s *Service) start(ctx context.Context, userID int64) ([]service.Reply, error) {
	state, err := json.Marshal(flowState{Step: stepAwaitAmount})
	if err != nil {
		return nil, err
	}

	// Replaces any other active flow for the user
	if err := s.storage.User().StartFlow(ctx, userID, models.FlowDeposit, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: fmt.Sprintf("How much did you send? Minimum deposit is %s.", s.cfg.MinAmount)}}, nil
}

func (s *Service) acceptAmount(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	if ev.Kind != service.EventText {
		return []service.Reply{{Text: "Please send the amount as a number."}}, nil
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(ev.Text))
	if err != nil || !amount.IsPositive() {
		return []service.Reply{{Text: "That doesn't look like an amount. Please send a positive number."}}, nil
	}
	if amount.LessThan(s.cfg.MinAmount) {
		return []service.Reply{{Text: fmt.Sprintf("Minimum deposit is %s.", s.cfg.MinAmount)}}, nil
	}

	state.Amount = amount
	state.Step = stepAwaitChannel
	if err := s.saveState(ctx, userID, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: fmt.Sprintf("Which channel did you pay through? %s.", strings.Join(DepositChannels(), ", "))}}, nil
}

func (s *Service) acceptChannel(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	code, ok := strings.CutPrefix(ev.Text, actionChannelPrefix)
	if ev.Kind != service.EventCallback || !ok {
		return []service.Reply{{Text: "Please pick the payment channel from the list."}}, nil
	}
	if _, known := channelRefPatterns[code]; !known {
		return []service.Reply{{Text: fmt.Sprintf("Unknown channel %q. Please pick one from the list.", code)}}, nil
	}

	state.Channel = code
	state.Step = stepAwaitProof
	if err := s.saveState(ctx, userID, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: "Forward the payment confirmation message you received."}}, nil
}

// acceptProof extracts the transaction reference and matches it against
// the pending notification pool. The whole resolution is one transaction:
// deposit record, balance credit, notification consumption and flow clear
// land together or not at all.
func (s *Service) acceptProof(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	if ev.Kind != service.EventText {
		return []service.Reply{{Text: "Please forward the confirmation message as text."}}, nil
	}

	c := claim{Channel: state.Channel, Amount: state.Amount}
	if err := s.validate.Struct(c); err != nil {
		_ = s.storage.User().ClearFlow(ctx, userID)
		return nil, fmt.Errorf("invalid deposit claim: %w", err)
	}

	ref, err := ExtractRef(state.Channel, ev.Text)
	if err != nil {
		return []service.Reply{{Text: "No transaction reference found in that message. Please forward the original confirmation."}}, nil
	}

	var dep models.Deposit
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		n, err := st.Notification().FindPendingMatch(ctx, ref, amountPatterns(state.Amount))
		if err != nil {
			return err
		}

		u, err := st.User().GetUser(ctx, userID)
		if err != nil {
			return err
		}

		dep, err = st.Deposit().Create(ctx, models.Deposit{
			Ref:            ref,
			UserID:         userID,
			Amount:         state.Amount,
			Channel:        state.Channel,
			NotificationID: n.ID,
			BalanceBefore:  u.Balance,
			BalanceAfter:   u.Balance.Add(state.Amount),
			Approved:       true,
		})
		if err != nil {
			return err
		}

		if _, err := st.User().Credit(ctx, userID, state.Amount); err != nil {
			return err
		}

		if err := st.Notification().MarkProcessed(ctx, n.ID); err != nil {
			return err
		}

		return st.User().ClearFlow(ctx, userID)
	})

	switch {
	case err == nil:
		s.logger.Info("Deposit matched", "user_id", userID, "ref", dep.Ref, "amount", dep.Amount)
		return []service.Reply{{Text: fmt.Sprintf("Deposit of %s confirmed. Your balance is %s.", dep.Amount, dep.BalanceAfter)}}, nil

	case errors.Is(err, apperrors.ErrNoMatchingNotification):
		// No state change: user may forward a better message or wait for
		// the payment notification to arrive
		return []service.Reply{{Text: "We haven't received a payment matching that reference and amount yet. Check the message or try again in a minute."}}, nil

	case errors.Is(err, apperrors.ErrDuplicateTransaction), errors.Is(err, apperrors.ErrNotificationConsumed):
		// The loser of a duplicate race gets a hard stop and no credit
		return []service.Reply{{Text: fmt.Sprintf("Transaction %s was already used for a deposit.", ref)}}, nil

	default:
		return nil, fmt.Errorf("deposit resolution failed: %w", err)
	}
}

func (s *Service) saveState(ctx context.Context, userID int64, state flowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.storage.User().SetFlowState(ctx, userID, models.FlowDeposit, raw)
}

// amountPatterns renders the claimed amount the ways payment SMS texts
// write it: the two-decimal form and, when whole, the bare integer.
// Each rendering is anchored on non-digit boundaries so a claim of 50 can
// not latch onto the 50 inside 1500.00.
func amountPatterns(amount decimal.Decimal) []string {
	boundary := func(rendering string) string {
		escaped := strings.ReplaceAll(rendering, ".", `\.`)
		return `(^|[^0-9])` + escaped + `([^0-9.]|$)`
	}

	fixed := amount.StringFixed(2)
	plain := amount.String()

	patterns := []string{boundary(fixed)}
	if plain != fixed {
		patterns = append(patterns, boundary(plain))
	}
	return patterns
}
