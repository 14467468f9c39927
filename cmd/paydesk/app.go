package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paydesk/paydesk/internal/db"
	"github.com/paydesk/paydesk/internal/logger"
	"github.com/paydesk/paydesk/internal/repository/postgres"
	"github.com/paydesk/paydesk/internal/service"
	"github.com/paydesk/paydesk/internal/service/deposit"
	"github.com/paydesk/paydesk/internal/service/ledger"
	"github.com/paydesk/paydesk/internal/service/settlement"
	"github.com/paydesk/paydesk/internal/service/withdrawal"
)

// App wires the core services around one database pool and hosts the
// settlement worker. The chat transport, the inbound SMS relay and the
// concrete payout automation driver are attached by the embedding layer
// through Options.
type App struct {
	Logger logger.Logger

	Ledger      *ledger.Service
	Withdrawals *withdrawal.Service
	Deposits    *deposit.Service

	queue  *settlement.Queue
	worker *settlement.Worker
}

type Options struct {
	// Sessions hands out payout executor sessions. Defaults to a provider
	// that fails acquisition, which resolves every automated withdrawal
	// to refund-and-report until a real driver is attached.
	Sessions settlement.SessionProvider

	// Notifier delivers out-of-band messages to users. Defaults to
	// logging the payload.
	Notifier service.Notifier
}

func NewApp(ctx context.Context, c *Config, opts Options) (*App, error) {
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	withdrawMin, err := decimal.NewFromString(c.WithdrawMin)
	if err != nil {
		return nil, fmt.Errorf("bad withdraw-min value %q: %w", c.WithdrawMin, err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = service.NotifierFunc(func(_ context.Context, userID int64, text string) error {
			l.Info("Outbound notification", "user_id", userID, "text", text)
			return nil
		})
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = unconfiguredProvider{}
	}

	queue := settlement.NewQueue()
	worker := settlement.NewWorker(
		settlement.Config{
			ExecTimeout:  c.ExecutorTimeout,
			TaskPause:    c.TaskPause,
			IdleInterval: c.IdleInterval,
		},
		queue,
		settlement.RetryingProvider{Base: sessions},
		storage,
		notifier,
		l,
	)

	return &App{
		Logger: l,
		Ledger: ledger.NewService(storage),
		Withdrawals: withdrawal.NewService(
			withdrawal.Config{MinAmount: withdrawMin, DailyLimit: c.WithdrawDailyLimit},
			storage, queue, l,
		),
		Deposits: deposit.NewService(deposit.Config{}, storage, l),
		queue:    queue,
		worker:   worker,
	}, nil
}

// Run starts the settlement worker and blocks until the context is
// cancelled and the worker has drained its current task.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("Starting settlement worker")
	stopped := a.worker.Run(ctx)

	<-ctx.Done()
	<-stopped

	a.Logger.Info("Settlement worker stopped", "queued_tasks_lost", a.queue.Len())
	return nil
}

// unconfiguredProvider refuses every acquisition. Enqueued tasks then
// resolve to refund, which is the safe behavior when no automation driver
// is attached.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Acquire(context.Context) (settlement.Executor, error) {
	return nil, fmt.Errorf("no payout automation driver attached")
}
