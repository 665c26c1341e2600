package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	Enabled          bool
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	Now              func() time.Time
	Logger           *zap.Logger
}

// Breaker tracks provider failures in a sliding time window and rejects
// requests while open. A single instance is shared by every concurrently
// running task that talks to the same provider, so all methods are safe
// for concurrent use.
type Breaker struct {
	name             string
	enabled          bool
	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	now              func() time.Time
	logger           *zap.Logger

	mu       sync.Mutex
	failures []time.Time
	openedAt *time.Time
}

func New(name string, cfg Config) *Breaker {
	b := &Breaker{
		name:             name,
		enabled:          cfg.Enabled,
		failureThreshold: cfg.FailureThreshold,
		window:           cfg.Window,
		cooldown:         cfg.Cooldown,
		now:              cfg.Now,
		logger:           cfg.Logger,
	}

	if b.failureThreshold == 0 {
		b.failureThreshold = 5
	}
	if b.window == 0 {
		b.window = 60 * time.Second
	}
	if b.cooldown == 0 {
		b.cooldown = 120 * time.Second
	}
	if b.now == nil {
		b.now = time.Now
	}

	return b
}

// Allow reports whether a request may proceed. While the breaker is open
// and the cooldown has not elapsed it returns ErrCircuitOpen. Once the
// cooldown elapses the breaker closes and the failure history is cleared.
func (b *Breaker) Allow() error {
	if !b.enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.openedAt != nil {
		if now.Sub(*b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.openedAt = nil
		b.failures = b.failures[:0]
		if b.logger != nil {
			b.logger.Info("Circuit breaker closed after cooldown", zap.String("name", b.name))
		}
	}
	b.prune(now)
	return nil
}

// RecordFailure appends a failure timestamp and opens the breaker when the
// in-window failure count reaches the threshold.
func (b *Breaker) RecordFailure() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)
	b.failures = append(b.failures, now)
	if len(b.failures) >= b.failureThreshold {
		b.openedAt = &now
		if b.logger != nil {
			b.logger.Warn("Circuit breaker opened",
				zap.String("name", b.name),
				zap.Int("failures", len(b.failures)),
				zap.Duration("cooldown", b.cooldown),
			)
		}
	}
}

// RecordSuccess prunes stale failures. It does not close an open breaker
// early; the cooldown alone governs reset.
func (b *Breaker) RecordSuccess() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(b.now())
}

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt != nil
}

func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failures)
}

// prune drops failures older than the window. Caller must hold mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := 0
	for cutoff < len(b.failures) && now.Sub(b.failures[cutoff]) > b.window {
		cutoff++
	}
	if cutoff > 0 {
		b.failures = append(b.failures[:0], b.failures[cutoff:]...)
	}
}
