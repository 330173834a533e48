package reconcile

import (
	"time"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

// Option configures an Engine.
type Option func(*Engine) error

// Locker serializes runs across processes. TryLock must fail fast with an
// error matching errors.ErrRunInProgress when the key is held elsewhere.
type Locker interface {
	TryLock(key string) (unlock func(), err error)
}

// Hooks are callbacks fired after successful writes during a run. They are
// never fired by Preview or DetectConflicts.
type Hooks struct {
	OnLocalCreated  func(local entity.LocalRecord)
	OnRemoteCreated func(local entity.LocalRecord, remote entity.RemoteRecord)
	OnLocalUpdated  func(local entity.LocalRecord, newName string)
	OnRemoteUpdated func(local entity.LocalRecord, remote entity.RemoteRecord)
	OnConflict      func(conflict PendingConflict)
}

// WithClock sets the clock used for watermarks and run metadata.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return errors.NewValidationError("clock", nil, "clock cannot be nil")
		}
		e.now = now
		return nil
	}
}

// WithParallelism bounds concurrent local watermark refreshes.
func WithParallelism(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return errors.NewValidationError("parallelism", n, "parallelism must be at least 1")
		}
		e.parallelism = n
		return nil
	}
}

// WithThreshold overrides the potential duplicate threshold.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) error {
		if threshold <= 0 || threshold > 1 {
			return errors.NewValidationError("threshold", threshold, "threshold must be in (0, 1]")
		}
		e.threshold = threshold
		return nil
	}
}

// WithLocker adds a cross-process run lock.
func WithLocker(l Locker) Option {
	return func(e *Engine) error {
		e.locker = l
		return nil
	}
}

// WithHooks registers write callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) error {
		e.hooks = h
		return nil
	}
}
