package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/paydesk/paydesk/internal/logger"
	"github.com/paydesk/paydesk/internal/models"
	"github.com/paydesk/paydesk/internal/repository"
	"github.com/paydesk/paydesk/internal/service"
)

const (
	defaultExecTimeout  = 45 * time.Second // payout automation can take tens of seconds
	defaultTaskPause    = 2 * time.Second
	defaultIdleInterval = 15 * time.Second
)

type Config struct {
	// ExecTimeout bounds one executor call; exceeding it is a failure
	ExecTimeout time.Duration

	// TaskPause is the fixed pause between two tasks
	TaskPause time.Duration

	// IdleInterval is the fallback poll interval when the queue is empty
	IdleInterval time.Duration
}

// Worker is the single consumer of the settlement queue. One goroutine
// drives the payout executor serially: the executor is one stateful
// external session and can not take concurrent operations.
type Worker struct {
	cfg      Config
	queue    *Queue
	sessions SessionProvider
	storage  repository.Storage
	notifier service.Notifier
	logger   logger.Logger
}

func NewWorker(cfg Config, queue *Queue, sessions SessionProvider, storage repository.Storage, notifier service.Notifier, l logger.Logger) *Worker {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.TaskPause <= 0 {
		cfg.TaskPause = defaultTaskPause
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}

	return &Worker{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		storage:  storage,
		notifier: notifier,
		logger:   l,
	}
}

// Run starts the worker loop and returns a channel closed when the loop
// has fully stopped. Task-level errors never stop the loop: each one is
// resolved into refund-and-report and the worker moves on. Only context
// cancellation terminates it.
func (w *Worker) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		idle := time.NewTicker(w.cfg.IdleInterval)
		defer idle.Stop()

		for {
			task, ok := w.queue.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					w.logger.Debug("Settlement worker stopped")
					return
				case <-w.queue.Wake():
				case <-idle.C:
				}
				continue
			}

			w.settle(ctx, task)

			select {
			case <-ctx.Done():
				w.logger.Debug("Settlement worker stopped after task")
				return
			case <-time.After(w.cfg.TaskPause):
			}
		}
	}()

	return idleStopped
}

// settle resolves one task to exactly one of: completed with no refund, or
// failed with one refund of the original amount.
func (w *Worker) settle(ctx context.Context, task Task) {
	l := w.logger.With("ref", task.Ref, "user_id", task.UserID, "amount", task.Amount)

	res, err := w.execute(ctx, task)
	if err == nil {
		err = w.complete(ctx, task, res)
	}

	if err == nil {
		l.Info("Withdrawal settled")
		return
	}

	// Anything that went wrong past this point resolves to refund. Leaving
	// the user debited for an unexecuted payout is the unacceptable
	// failure mode, so the refund is attempted regardless of which
	// reconciliation step broke.
	l.Warn("Withdrawal failed, refunding", "error", err)
	w.refund(ctx, task)
}

// execute acquires the automation session and calls it, at most once.
// The executor gives no idempotency guarantee, so there is no retry of the
// call itself; only session acquisition may be retried by the provider.
func (w *Worker) execute(ctx context.Context, task Task) (Result, error) {
	session, err := w.sessions.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("can't acquire payout session: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.ExecTimeout)
	defer cancel()

	res, err := session.Execute(execCtx, task.Amount, task.Account)
	if err != nil {
		return Result{}, fmt.Errorf("payout execution failed: %w", err)
	}

	return res, nil
}

func (w *Worker) complete(ctx context.Context, task Task, res Result) error {
	var settlementRef *string
	if res.SettlementRef != "" {
		settlementRef = &res.SettlementRef
	}

	_, err := w.storage.Withdrawal().SetStatus(ctx, task.Ref, models.WithdrawalStatusCompleted, settlementRef)
	if err != nil {
		return fmt.Errorf("can't mark withdrawal completed: %w", err)
	}

	w.notify(ctx, task.UserID, fmt.Sprintf("Withdrawal %s for %s is complete.", task.Ref, task.Amount))
	return nil
}

// refund is best effort on every step: a failed record update must not
// block the credit, and vice versa.
func (w *Worker) refund(ctx context.Context, task Task) {
	if _, err := w.storage.User().Credit(ctx, task.UserID, task.Amount); err != nil {
		w.logger.Error("Refund credit failed", "ref", task.Ref, "user_id", task.UserID, "error", err)
	}

	if _, err := w.storage.Withdrawal().SetStatus(ctx, task.Ref, models.WithdrawalStatusFailed, nil); err != nil {
		w.logger.Error("Can't mark withdrawal failed", "ref", task.Ref, "error", err)
	}

	w.notify(ctx, task.UserID, fmt.Sprintf("Withdrawal %s could not be completed. %s has been returned to your balance.", task.Ref, task.Amount))
}

// notify failures are logged and swallowed: the ledger and the record are
// already correct, and a duplicate notification is worse than a missed one
func (w *Worker) notify(ctx context.Context, userID int64, text string) {
	if err := w.notifier.Notify(ctx, userID, text); err != nil {
		w.logger.Warn("User notification failed", "user_id", userID, "error", err)
	}
}
