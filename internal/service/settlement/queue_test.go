package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Parallel()

	task := func(ref string) Task {
		return Task{Ref: ref, UserID: 1, Amount: decimal.NewFromInt(10), Account: "a"}
	}

	t.Run("strict FIFO", func(t *testing.T) {
		q := NewQueue()
		q.Enqueue(task("first"))
		q.Enqueue(task("second"))
		q.Enqueue(task("third"))

		for _, want := range []string{"first", "second", "third"} {
			got, ok := q.Pop()
			require.True(t, ok)
			require.Equal(t, want, got.Ref)
		}

		_, ok := q.Pop()
		require.False(t, ok, "drained queue is empty")
	})

	t.Run("enqueue signals the wake channel", func(t *testing.T) {
		q := NewQueue()
		q.Enqueue(task("x"))

		select {
		case <-q.Wake():
		default:
			t.Fatal("expected a wake signal after enqueue")
		}
	})

	t.Run("enqueue never blocks on a saturated signal", func(t *testing.T) {
		q := NewQueue()
		for i := 0; i < 100; i++ {
			q.Enqueue(task("x"))
		}
		require.Equal(t, 100, q.Len(), "all tasks queued even with one pending signal")
	})
}
