// Package retry wraps calls that leave the process, chiefly vector store
// traffic, with bounded exponential backoff. Delays double per attempt up
// to MaxDelay, plus symmetric jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	// Transient lists the errors worth another attempt. Empty means
	// every error is treated as transient.
	Transient []error
	Logger    *zap.Logger
}

// VectorStore is the policy for vector index I/O. Index operations sit on
// the document ingestion path, so attempts stay few and delays short.
func VectorStore(log *zap.Logger) Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
		Logger:         log,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// Do runs call under the policy. op names the remote operation in log
// output. The last error is returned once attempts are exhausted; a
// non-transient error returns immediately.
func Do(ctx context.Context, p Policy, op string, call func() error) error {
	p = p.normalized()

	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := call()
		if err == nil {
			if attempt > 1 && p.Logger != nil {
				p.Logger.Info("Remote call recovered",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err

		if !isTransient(err, p.Transient) {
			if p.Logger != nil {
				p.Logger.Debug("Remote call failed permanently",
					zap.String("op", op),
					zap.Error(err),
				)
			}
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		if p.Logger != nil {
			p.Logger.Warn("Remote call failed, backing off",
				zap.String("op", op),
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay, p.JitterFraction)):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}

// DoWithResult is Do for calls that return a value alongside the error.
func DoWithResult[T any](ctx context.Context, p Policy, op string, call func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, op, func() error {
		var err error
		result, err = call()
		return err
	})
	return result, err
}

func isTransient(err error, transient []error) bool {
	if len(transient) == 0 {
		return true
	}
	for _, t := range transient {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * float64(d) * fraction)
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
