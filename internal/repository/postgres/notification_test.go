package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
	"github.com/paydesk/paydesk/internal/testutil"
)

func TestNotificationRepo(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	// The two-decimal amount pattern the deposit matcher produces
	amount50 := []string{`(^|[^0-9])50\.00([^0-9.]|$)`}

	t.Run("FindPendingMatch", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			n, err := storage.Notification().Create(t.Context(), "You have received ETB 50.00 ref FT1234567890 on your account", "relay-1")
			require.NoError(t, err)
			require.Equal(t, models.NotificationStatusPending, n.Status)

			t.Run("ref and amount present", func(t *testing.T) {
				got, err := storage.Notification().FindPendingMatch(t.Context(), "FT1234567890", amount50)
				require.NoError(t, err)
				require.Equal(t, n.ID, got.ID)
			})

			t.Run("ref absent", func(t *testing.T) {
				_, err := storage.Notification().FindPendingMatch(t.Context(), "FT0000000000", amount50)
				require.ErrorIs(t, err, apperrors.ErrNoMatchingNotification)
			})

			t.Run("amount absent", func(t *testing.T) {
				_, err := storage.Notification().FindPendingMatch(t.Context(), "FT1234567890", []string{`(^|[^0-9])75\.00([^0-9.]|$)`})
				require.ErrorIs(t, err, apperrors.ErrNoMatchingNotification)
			})

			t.Run("amount boundary respected", func(t *testing.T) {
				// the bare rendering of 50 must not latch onto the 50
				// inside 1500.00
				_, err := storage.Notification().Create(t.Context(), "Received ETB 1500.00 ref FT9999999999", "relay-1")
				require.NoError(t, err)

				bare50 := []string{`(^|[^0-9])50([^0-9.]|$)`}
				_, err = storage.Notification().FindPendingMatch(t.Context(), "FT9999999999", bare50)
				require.ErrorIs(t, err, apperrors.ErrNoMatchingNotification)
			})

			t.Run("consumed rows never re-match", func(t *testing.T) {
				require.NoError(t, storage.Notification().MarkProcessed(t.Context(), n.ID))

				_, err := storage.Notification().FindPendingMatch(t.Context(), "FT1234567890", amount50)
				require.ErrorIs(t, err, apperrors.ErrNoMatchingNotification)
			})
		})
	})

	t.Run("MarkProcessed consumes exactly once", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			n, err := storage.Notification().Create(t.Context(), "body", "relay-1")
			require.NoError(t, err)

			require.NoError(t, storage.Notification().MarkProcessed(t.Context(), n.ID))

			err = storage.Notification().MarkProcessed(t.Context(), n.ID)
			require.ErrorIs(t, err, apperrors.ErrNotificationConsumed)
		})
	})
}

func TestDepositRepo(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("Create and duplicate", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.User().CreateUser(t.Context(), 3001)
			require.NoError(t, err)
			n, err := storage.Notification().Create(t.Context(), "ETB 50.00 FT1234567890", "relay-1")
			require.NoError(t, err)

			dep := models.Deposit{
				Ref:            "FT1234567890",
				UserID:         3001,
				Amount:         decimal.NewFromInt(50),
				Channel:        models.ChannelBank,
				NotificationID: n.ID,
				BalanceBefore:  decimal.Zero,
				BalanceAfter:   decimal.NewFromInt(50),
				Approved:       true,
			}

			got, err := storage.Deposit().Create(t.Context(), dep)
			require.NoError(t, err)
			require.Equal(t, "FT1234567890", got.Ref)
			require.NotZero(t, got.CreatedAt)

			t.Run("same ref fails for anyone", func(t *testing.T) {
				dup := dep
				dup.UserID = 3001
				_, err := storage.Deposit().Create(t.Context(), dup)
				require.ErrorIs(t, err, apperrors.ErrDuplicateTransaction)
			})

			t.Run("GetByRef", func(t *testing.T) {
				got, err := storage.Deposit().GetByRef(t.Context(), "FT1234567890")
				require.NoError(t, err)
				require.Equal(t, int64(3001), got.UserID)

				_, err = storage.Deposit().GetByRef(t.Context(), "FT0000000000")
				require.ErrorIs(t, err, apperrors.ErrDepositNotFound)
			})
		})
	})

	t.Run("ListByUser", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.User().CreateUser(t.Context(), 3002)
			require.NoError(t, err)
			n, err := storage.Notification().Create(t.Context(), "body", "relay-1")
			require.NoError(t, err)

			for _, ref := range []string{"FTAAA1111111", "FTBBB2222222"} {
				_, err := storage.Deposit().Create(t.Context(), models.Deposit{
					Ref:            ref,
					UserID:         3002,
					Amount:         decimal.NewFromInt(20),
					Channel:        models.ChannelBank,
					NotificationID: n.ID,
					BalanceBefore:  decimal.Zero,
					BalanceAfter:   decimal.NewFromInt(20),
					Approved:       true,
				})
				require.NoError(t, err)
			}

			ds, err := storage.Deposit().ListByUser(t.Context(), 3002, 10)
			require.NoError(t, err)
			require.Len(t, ds, 2)
		})
	})
}
