package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestCall_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Call(context.Background(), "create_customer", "a@example.com", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCall_RetriesLockedDatabase(t *testing.T) {
	logs := observeLogs(t)
	calls := 0
	err := fastPolicy(3).Call(context.Background(), "create_status", "cust-1", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	entries := logs.FilterMessage("resilience: retrying store call").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "create_status", fields["operation"])
	assert.Equal(t, "cust-1", fields["key"])
	assert.EqualValues(t, 1, fields["attempt"])
}

func TestCall_RetriesSerializationFailure(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Call(context.Background(), "update_customer", "cust-1", func(context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCall_PermanentStoreErrorNotRetried(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	calls := 0
	err := fastPolicy(5).Call(context.Background(), "create_customer", "a@example.com", func(context.Context) error {
		calls++
		return unique
	})
	assert.Equal(t, 1, calls)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.Code)
}

func TestCall_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	cause := NewTransientError(errors.New("connection reset by peer"))
	err := fastPolicy(3).Call(context.Background(), "save_checkpoint", "reprocess", func(context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save_checkpoint failed after 3 attempts")
	assert.ErrorIs(t, err, cause)
}

func TestCall_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Backoff: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Call(ctx, "create_status", "cust-1", func(context.Context) error {
			calls++
			return NewTransientError(errors.New("too many connections"))
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}

func TestCall_CustomRetryable(t *testing.T) {
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return err.Error() == "again" }

	calls := 0
	err := p.Call(context.Background(), "op", "k", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("again")
		}
		return errors.New("stop")
	})
	assert.EqualError(t, err, "stop")
	assert.Equal(t, 2, calls)
}

func TestCallValue(t *testing.T) {
	calls := 0
	id, err := CallValue(context.Background(), fastPolicy(3), "find_customer", "a@example.com",
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", NewTransientError(errors.New("i/o timeout"))
			}
			return "cust-1", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", id)

	n, err := CallValue(context.Background(), fastPolicy(1), "count", "", func(context.Context) (int, error) {
		return 7, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Zero(t, n, "value is dropped on failure")
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, DefaultAttempts, p.Attempts)
	assert.Equal(t, DefaultBackoff, p.Backoff)
	assert.Equal(t, DefaultMaxBackoff, p.MaxBackoff)
	require.NotNil(t, p.Retryable)

	p = NewPolicy(5, 10*time.Second)
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, 10*time.Second, p.Backoff)
	assert.Equal(t, 10*time.Second, p.MaxBackoff, "cap never below the first wait")
}

func TestJitter(t *testing.T) {
	assert.Zero(t, jitter(0))
	for i := 0; i < 50; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
