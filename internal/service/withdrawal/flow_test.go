package withdrawal

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/logger"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
	"github.com/paydesk/paydesk/internal/repository/postgres"
	"github.com/paydesk/paydesk/internal/service"
	"github.com/paydesk/paydesk/internal/service/settlement"
	"github.com/paydesk/paydesk/internal/testutil"
)

func TestWithdrawalFlow(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	cfg := Config{MinAmount: decimal.NewFromInt(50), DailyLimit: 2}

	// Helper to run each case inside a rolled back transaction
	run := func(t *testing.T, fn func(s *Service, q *settlement.Queue, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			queue := settlement.NewQueue()
			s := NewService(cfg, storage, queue, logger.NewNoOpLogger())
			fn(s, queue, storage)
		})
	}

	command := service.Event{Kind: service.EventCommand, Text: "withdraw"}
	callback := func(payload string) service.Event {
		return service.Event{Kind: service.EventCallback, Text: payload}
	}
	text := func(msg string) service.Event {
		return service.Event{Kind: service.EventText, Text: msg}
	}

	seedUser := func(t *testing.T, storage repository.Storage, userID int64, balance int64) {
		_, err := storage.User().CreateUser(t.Context(), userID)
		require.NoError(t, err)
		if balance > 0 {
			_, err = storage.User().Credit(t.Context(), userID, decimal.NewFromInt(balance))
			require.NoError(t, err)
		}
	}

	activeStep := func(t *testing.T, storage repository.Storage, userID int64) string {
		u, err := storage.User().GetUser(t.Context(), userID)
		require.NoError(t, err)
		if !u.HasFlow(models.FlowWithdrawal) {
			return ""
		}
		var st flowState
		require.NoError(t, json.Unmarshal(u.FlowState, &st))
		return st.Step
	}

	t.Run("full happy path on automated channel", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 11, 100)

			_, err := s.Handle(t.Context(), 11, command)
			require.NoError(t, err)
			require.Equal(t, stepSelectChannel, activeStep(t, storage, 11))

			_, err = s.Handle(t.Context(), 11, callback("channel:bank"))
			require.NoError(t, err)

			_, err = s.Handle(t.Context(), 11, text("60"))
			require.NoError(t, err)

			_, err = s.Handle(t.Context(), 11, text("1000222333444"))
			require.NoError(t, err)
			require.Equal(t, stepConfirm, activeStep(t, storage, 11))

			replies, err := s.Handle(t.Context(), 11, callback(ActionConfirm))
			require.NoError(t, err)
			require.NotEmpty(t, replies)

			u, err := storage.User().GetUser(t.Context(), 11)
			require.NoError(t, err)
			require.True(t, u.Balance.Equal(decimal.NewFromInt(40)), "60 debited from 100")
			require.Equal(t, models.FlowNone, u.ActiveFlow, "flow cleared after commit")

			ws, err := storage.Withdrawal().ListByUser(t.Context(), 11, 10)
			require.NoError(t, err)
			require.Len(t, ws, 1)
			require.Equal(t, models.WithdrawalStatusPending, ws[0].Status)
			require.True(t, ws[0].Amount.Equal(decimal.NewFromInt(60)))

			task, ok := q.Pop()
			require.True(t, ok, "automated channel enqueues a settlement task")
			require.Equal(t, ws[0].Ref, task.Ref)
			require.True(t, task.Amount.Equal(decimal.NewFromInt(60)))
		})
	})

	t.Run("manual channel is not enqueued", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 12, 100)

			_, err := s.Handle(t.Context(), 12, command)
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 12, callback("channel:agent"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 12, text("60"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 12, text("agent-77"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 12, callback(ActionConfirm))
			require.NoError(t, err)

			_, ok := q.Pop()
			require.False(t, ok, "manual channels stay pending for review")

			ws, err := storage.Withdrawal().ListByUser(t.Context(), 12, 10)
			require.NoError(t, err)
			require.Len(t, ws, 1)
			require.Equal(t, models.WithdrawalStatusPending, ws[0].Status)
		})
	})

	t.Run("start refused below minimum balance", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 13, 20)

			replies, err := s.Handle(t.Context(), 13, command)
			require.NoError(t, err)
			require.NotEmpty(t, replies)
			require.Empty(t, activeStep(t, storage, 13), "no flow opened")
		})
	})

	t.Run("start refused at daily limit", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 14, 500)

			for _, ref := range []string{"WD-L1", "WD-L2"} {
				w := models.Withdrawal{
					ID: uuid.New(), Ref: ref, UserID: 14,
					Amount: decimal.NewFromInt(50), Channel: models.ChannelBank, Account: "x",
					Status: models.WithdrawalStatusCompleted,
				}
				_, err := storage.Withdrawal().Create(t.Context(), w)
				require.NoError(t, err)
			}

			_, err := s.Handle(t.Context(), 14, command)
			require.NoError(t, err)
			require.Empty(t, activeStep(t, storage, 14))
		})
	})

	t.Run("over-balance amount re-prompts without transition", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 15, 100)

			_, err := s.Handle(t.Context(), 15, command)
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 15, callback("channel:bank"))
			require.NoError(t, err)

			// A 200 request against a balance of 100, repeated: no
			// transition and no ledger effect however often it is retried
			for i := 0; i < 3; i++ {
				_, err = s.Handle(t.Context(), 15, text("200"))
				require.NoError(t, err)
				require.Equal(t, stepAwaitAmount, activeStep(t, storage, 15))
			}

			u, err := storage.User().GetUser(t.Context(), 15)
			require.NoError(t, err)
			require.True(t, u.Balance.Equal(decimal.NewFromInt(100)), "no debit happened")

			_, err = s.Handle(t.Context(), 15, text("not-a-number"))
			require.NoError(t, err)
			require.Equal(t, stepAwaitAmount, activeStep(t, storage, 15))
		})
	})

	t.Run("cancel clears flow with no ledger effect", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 16, 100)

			_, err := s.Handle(t.Context(), 16, command)
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 16, callback("channel:bank"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 16, text("60"))
			require.NoError(t, err)

			_, err = s.Handle(t.Context(), 16, callback(ActionCancel))
			require.NoError(t, err)

			u, err := storage.User().GetUser(t.Context(), 16)
			require.NoError(t, err)
			require.Equal(t, models.FlowNone, u.ActiveFlow)
			require.True(t, u.Balance.Equal(decimal.NewFromInt(100)))
		})
	})

	t.Run("confirm aborts when balance changed concurrently", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 17, 100)

			_, err := s.Handle(t.Context(), 17, command)
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 17, callback("channel:bank"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 17, text("60"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 17, text("1000222333444"))
			require.NoError(t, err)

			// Somebody spends the money while the confirmation is on screen
			_, err = storage.User().Debit(t.Context(), 17, decimal.NewFromInt(80))
			require.NoError(t, err)

			replies, err := s.Handle(t.Context(), 17, callback(ActionConfirm))
			require.NoError(t, err)
			require.NotEmpty(t, replies)

			u, err := storage.User().GetUser(t.Context(), 17)
			require.NoError(t, err)
			require.True(t, u.Balance.Equal(decimal.NewFromInt(20)), "only the concurrent debit happened")
			require.Equal(t, models.FlowNone, u.ActiveFlow, "flow aborted cleanly")

			ws, err := storage.Withdrawal().ListByUser(t.Context(), 17, 10)
			require.NoError(t, err)
			require.Empty(t, ws, "no record is left behind")

			_, ok := q.Pop()
			require.False(t, ok)
		})
	})

	t.Run("unsettled withdrawal blocks the next confirm", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			queue := settlement.NewQueue()
			s := NewService(Config{MinAmount: decimal.NewFromInt(50), DailyLimit: 1}, storage, queue, logger.NewNoOpLogger())

			seedUser(t, storage, 20, 500)

			_, err := s.Handle(t.Context(), 20, command)
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 20, callback("channel:bank"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 20, text("60"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 20, text("1000222333444"))
			require.NoError(t, err)
			_, err = s.Handle(t.Context(), 20, callback(ActionConfirm))
			require.NoError(t, err)

			// The first withdrawal is still pending: settlement has not
			// run. Its slot must already be taken.
			_, err = s.Handle(t.Context(), 20, command)
			require.NoError(t, err)
			require.Empty(t, activeStep(t, storage, 20), "no second flow opens while the first is unsettled")

			// Even a confirm forced past the start check cannot debit
			err = storage.User().StartFlow(t.Context(), 20, models.FlowWithdrawal,
				[]byte(`{"step":"confirm","channel":"bank","amount":"60","account":"1000222333444"}`))
			require.NoError(t, err)

			replies, err := s.Handle(t.Context(), 20, callback(ActionConfirm))
			require.NoError(t, err)
			require.Contains(t, replies[0].Text, "limit")

			u, err := storage.User().GetUser(t.Context(), 20)
			require.NoError(t, err)
			require.True(t, u.Balance.Equal(decimal.NewFromInt(440)), "only the first debit of 60 happened")

			ws, err := storage.Withdrawal().ListByUser(t.Context(), 20, 10)
			require.NoError(t, err)
			require.Len(t, ws, 1)
		})
	})

	t.Run("event without active flow", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 18, 100)

			_, err := s.Handle(t.Context(), 18, text("60"))
			require.ErrorIs(t, err, apperrors.ErrFlowNotActive)
		})
	})

	t.Run("starting withdrawal replaces a deposit flow", func(t *testing.T) {
		run(t, func(s *Service, q *settlement.Queue, storage repository.Storage) {
			seedUser(t, storage, 19, 100)

			err := storage.User().StartFlow(t.Context(), 19, models.FlowDeposit, []byte(`{"step":"await_amount","amount":"25"}`))
			require.NoError(t, err)

			_, err = s.Handle(t.Context(), 19, command)
			require.NoError(t, err)

			u, err := storage.User().GetUser(t.Context(), 19)
			require.NoError(t, err)
			require.Equal(t, models.FlowWithdrawal, u.ActiveFlow)

			var st flowState
			require.NoError(t, json.Unmarshal(u.FlowState, &st))
			require.Equal(t, stepSelectChannel, st.Step)
			require.True(t, st.Amount.IsZero(), "no residue of the abandoned deposit flow")
		})
	})
}
