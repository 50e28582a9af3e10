package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Policy retries store calls that fail with a transient error (see
// IsTransient). Any other error is returned on the first attempt.
type Policy struct {
	// Attempts is the total number of tries; 1 disables retries.
	Attempts int
	// Backoff is the wait before the first retry. It doubles on every
	// further retry up to MaxBackoff, with up to 20% jitter added.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// Default store retry settings.
const (
	DefaultAttempts   = 3
	DefaultBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff = 5 * time.Second
)

// NewPolicy builds a Policy from configured values; non-positive values
// fall back to the defaults.
func NewPolicy(attempts int, backoff time.Duration) Policy {
	return Policy{Attempts: attempts, Backoff: backoff}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Call runs fn until it succeeds, fails with a permanent error, ctx is
// done, or the attempts are used up. op and key identify the call in the
// retry log. When every attempt failed transiently the last error is
// wrapped with the attempt count.
func (p Policy) Call(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.Retryable(err) {
			return err
		}
		if attempt >= p.Attempts {
			return eris.Wrapf(err, "resilience: %s failed after %d attempts", op, attempt)
		}

		zap.L().Warn("resilience: retrying store call",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, jitter(wait)); err != nil {
			return eris.Wrapf(err, "resilience: %s interrupted", op)
		}
		wait = min(wait*2, p.MaxBackoff)
	}
}

// CallValue is Call for functions that return a value.
func CallValue[T any](ctx context.Context, p Policy, op, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Call(ctx, op, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
