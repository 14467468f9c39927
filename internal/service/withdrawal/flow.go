package withdrawal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/logger"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
	"github.com/paydesk/paydesk/internal/service"
	"github.com/paydesk/paydesk/internal/service/settlement"
)

// Flow steps, persisted in the user's flow state between events
const (
	stepSelectChannel = "select_channel"
	stepAwaitAmount   = "await_amount"
	stepAwaitAccount  = "await_account"
	stepConfirm       = "confirm"
)

// Callback payloads understood by the flow
const (
	ActionConfirm       = "confirm"
	ActionCancel        = "cancel"
	actionChannelPrefix = "channel:"
)

type flowState struct {
	Step    string          `json:"step"`
	Channel string          `json:"channel,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Account string          `json:"account,omitempty"`
}

// commitParams is everything the confirm step commits; validated once more
// right before the debit because the state blob crossed a persistence
// boundary between events.
type commitParams struct {
	Channel string          `validate:"required,oneof=bank wallet agent"`
	Account string          `validate:"required,min=3"`
	Amount  decimal.Decimal `validate:"required"`
}

type Config struct {
	// MinAmount is the smallest withdrawable amount and also the balance
	// floor below which the flow refuses to start
	MinAmount decimal.Decimal

	// DailyLimit is the maximum completed withdrawals per local day
	DailyLimit int

	// HistoryLimit caps the History listing
	HistoryLimit int
}

// Service drives the per-user withdrawal conversation. One entry point,
// Handle, takes the persisted flow state plus an inbound event and returns
// the replies to send back; balance effects happen only at the confirm step.
type Service struct {
	cfg      Config
	storage  repository.Storage
	queue    *settlement.Queue
	logger   logger.Logger
	validate *validator.Validate

	// now is replaceable in tests; the daily limit is counted from the
	// local-day start of this clock
	now func() time.Time
}

func NewService(cfg Config, storage repository.Storage, queue *settlement.Queue, l logger.Logger) *Service {
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = decimal.NewFromInt(50)
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 2
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		queue:    queue,
		logger:   l,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Handle advances the withdrawal conversation with one event.
func (s *Service) Handle(ctx context.Context, userID int64, ev service.Event) ([]service.Reply, error) {
	u, err := s.storage.User().GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ev.Kind == service.EventCommand {
		return s.start(ctx, u)
	}

	if !u.HasFlow(models.FlowWithdrawal) {
		return nil, apperrors.ErrFlowNotActive
	}

	var state flowState
	if err := json.Unmarshal(u.FlowState, &state); err != nil {
		// Unreadable state is unrecoverable for this flow; drop it
		_ = s.storage.User().ClearFlow(ctx, userID)
		return nil, fmt.Errorf("corrupt withdrawal flow state: %w", err)
	}

	if ev.Kind == service.EventCallback && ev.Text == ActionCancel {
		return s.cancel(ctx, u.ID)
	}

	switch state.Step {
	case stepSelectChannel:
		return s.selectChannel(ctx, u.ID, state, ev)
	case stepAwaitAmount:
		return s.acceptAmount(ctx, u, state, ev)
	case stepAwaitAccount:
		return s.acceptAccount(ctx, u.ID, state, ev)
	case stepConfirm:
		return s.commit(ctx, u.ID, state, ev)
	default:
		_ = s.storage.User().ClearFlow(ctx, u.ID)
		return nil, fmt.Errorf("unknown withdrawal step %q", state.Step)
	}
}

// start checks the preconditions and opens the flow. A refused start
// changes nothing: no flow is recorded.
func (s *Service) start(ctx context.Context, u models.User) ([]service.Reply, error) {
	if u.Balance.LessThan(s.cfg.MinAmount) {
		return []service.Reply{{Text: fmt.Sprintf("Withdrawals start at %s. Your balance is %s.", s.cfg.MinAmount, u.Balance)}}, nil
	}

	n, err := s.storage.Withdrawal().CountActiveSince(ctx, u.ID, dayStart(s.now()))
	if err != nil {
		return nil, err
	}
	if n >= s.cfg.DailyLimit {
		return []service.Reply{{Text: fmt.Sprintf("You already have %d withdrawals today. Try again tomorrow.", n)}}, nil
	}

	state, err := json.Marshal(flowState{Step: stepSelectChannel})
	if err != nil {
		return nil, err
	}

	// Starting the flow replaces any other active flow for the user
	if err := s.storage.User().StartFlow(ctx, u.ID, models.FlowWithdrawal, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: "Where should we send your money? Choose a channel: bank, wallet, agent."}}, nil
}

func (s *Service) selectChannel(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	code, ok := strings.CutPrefix(ev.Text, actionChannelPrefix)
	if ev.Kind != service.EventCallback || !ok {
		return []service.Reply{{Text: "Please pick a channel from the list."}}, nil
	}
	if !models.KnownChannel(code) {
		return []service.Reply{{Text: fmt.Sprintf("Unknown channel %q. Please pick one from the list.", code)}}, nil
	}

	state.Channel = code
	state.Step = stepAwaitAmount
	if err := s.saveState(ctx, userID, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: fmt.Sprintf("How much would you like to withdraw? Minimum is %s.", s.cfg.MinAmount)}}, nil
}

// acceptAmount validates the amount against the balance visible right now.
// This is only a courtesy check for early feedback: the authoritative one
// happens inside the conditional debit at commit time.
func (s *Service) acceptAmount(ctx context.Context, u models.User, state flowState, ev service.Event) ([]service.Reply, error) {
	if ev.Kind != service.EventText {
		return []service.Reply{{Text: "Please send the amount as a number."}}, nil
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(ev.Text))
	if err != nil || !amount.IsPositive() {
		return []service.Reply{{Text: "That doesn't look like an amount. Please send a positive number."}}, nil
	}
	if amount.LessThan(s.cfg.MinAmount) {
		return []service.Reply{{Text: fmt.Sprintf("Minimum withdrawal is %s.", s.cfg.MinAmount)}}, nil
	}
	if amount.GreaterThan(u.Balance) {
		return []service.Reply{{Text: fmt.Sprintf("You only have %s available.", u.Balance)}}, nil
	}

	state.Amount = amount
	state.Step = stepAwaitAccount
	if err := s.saveState(ctx, u.ID, state); err != nil {
		return nil, err
	}

	return []service.Reply{{Text: "What account should receive the payout?"}}, nil
}

func (s *Service) acceptAccount(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	account := strings.TrimSpace(ev.Text)
	if ev.Kind != service.EventText || account == "" {
		return []service.Reply{{Text: "Please send the destination account."}}, nil
	}

	state.Account = account
	state.Step = stepConfirm
	if err := s.saveState(ctx, userID, state); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Withdraw %s via %s to %s. Confirm?", state.Amount, state.Channel, state.Account)
	return []service.Reply{{Text: text}}, nil
}

// commit performs the conditional debit and creates the withdrawal record
// in one transaction. The pending record lands with the debit, so a
// concurrent confirm re-evaluating the daily-limit predicate already sees
// the slot taken; if anything inside fails, the debit rolls back with it
// and the user is never left debited without a record.
func (s *Service) commit(ctx context.Context, userID int64, state flowState, ev service.Event) ([]service.Reply, error) {
	if ev.Kind != service.EventCallback || ev.Text != ActionConfirm {
		return []service.Reply{{Text: "Please confirm or cancel the withdrawal."}}, nil
	}

	params := commitParams{Channel: state.Channel, Account: state.Account, Amount: state.Amount}
	if err := s.validate.Struct(params); err != nil {
		_ = s.storage.User().ClearFlow(ctx, userID)
		return nil, fmt.Errorf("invalid withdrawal parameters: %w", err)
	}

	ref := newRef()
	w := models.Withdrawal{
		ID:      uuid.New(),
		Ref:     ref,
		UserID:  userID,
		Amount:  state.Amount,
		Channel: state.Channel,
		Account: state.Account,
		Status:  models.WithdrawalStatusPending,
	}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.User().DebitForWithdrawal(ctx, userID, state.Amount, dayStart(s.now()), s.cfg.DailyLimit); err != nil {
			return err
		}
		if _, err := st.Withdrawal().Create(ctx, w); err != nil {
			return err
		}
		return st.User().ClearFlow(ctx, userID)
	})
	switch {
	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		// Balance changed under us, abort the whole flow cleanly
		_ = s.storage.User().ClearFlow(ctx, userID)
		return []service.Reply{{Text: "Your balance changed and no longer covers this withdrawal. Nothing was taken."}}, nil
	case errors.Is(err, apperrors.ErrDailyLimitReached):
		_ = s.storage.User().ClearFlow(ctx, userID)
		return []service.Reply{{Text: "You reached today's withdrawal limit. Nothing was taken."}}, nil
	case err != nil:
		return nil, err
	}

	s.logger.Info("Withdrawal committed", "user_id", userID, "ref", ref, "amount", state.Amount, "channel", state.Channel)

	if models.ChannelAutomated(state.Channel) {
		s.queue.Enqueue(settlement.Task{
			Ref:     ref,
			UserID:  userID,
			Amount:  state.Amount,
			Account: state.Account,
		})
		return []service.Reply{{Text: fmt.Sprintf("Withdrawal %s accepted. You will get a message once the payout is done.", ref)}}, nil
	}

	return []service.Reply{{Text: fmt.Sprintf("Withdrawal %s accepted and queued for manual review.", ref)}}, nil
}

// cancel is valid from any step before the debit and has no ledger effect
func (s *Service) cancel(ctx context.Context, userID int64) ([]service.Reply, error) {
	if err := s.storage.User().ClearFlow(ctx, userID); err != nil {
		return nil, err
	}
	return []service.Reply{{Text: "Withdrawal cancelled. Your balance is untouched."}}, nil
}

// History lists the user's withdrawal records, newest first
func (s *Service) History(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	return s.storage.Withdrawal().ListByUser(ctx, userID, s.cfg.HistoryLimit)
}

// ListUnreviewed returns resolved records still waiting for a manual audit
func (s *Service) ListUnreviewed(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	return s.storage.Withdrawal().ListUnreviewed(ctx, limit)
}

func (s *Service) MarkReviewed(ctx context.Context, ref string) error {
	return s.storage.Withdrawal().MarkReviewed(ctx, ref)
}

func (s *Service) saveState(ctx context.Context, userID int64, state flowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.storage.User().SetFlowState(ctx, userID, models.FlowWithdrawal, raw)
}

// newRef generates the unique transaction reference at commit time
func newRef() string {
	id := uuid.New()
	return "WD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

// dayStart returns the local-day boundary used for the daily limit
func dayStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
