package catsync

import (
	"time"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/reconcile"
)

// Option is a function that configures a Client.
type Option func(*options) error

// options holds the Client configuration.
type options struct {
	bindings      []Binding
	engineOptions []reconcile.Option

	autoSyncEnabled  bool
	autoSyncInterval time.Duration
	autoSyncFunc     AutoSyncFunc
}

func defaults() *options {
	return &options{
		autoSyncInterval: constants.DefaultSyncInterval,
	}
}

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithBinding adds a (kind, catalog) binding used by SyncAll and scheduled
// syncs. Bindings are deduplicated.
func WithBinding(kind entity.Kind, catalogID string) Option {
	return func(o *options) error {
		parsed, err := entity.ParseKind(string(kind))
		if err != nil {
			return err
		}
		if catalogID == "" {
			return errors.NewValidationError("catalog", catalogID, "catalog is required")
		}
		b := Binding{Kind: parsed, CatalogID: catalogID}
		for _, existing := range o.bindings {
			if existing == b {
				return nil
			}
		}
		o.bindings = append(o.bindings, b)
		return nil
	}
}

// WithThreshold sets the potential duplicate threshold for every engine.
func WithThreshold(threshold float64) Option {
	return func(o *options) error {
		o.engineOptions = append(o.engineOptions, reconcile.WithThreshold(threshold))
		return nil
	}
}

// WithParallelism bounds concurrent watermark refreshes per run.
func WithParallelism(n int) Option {
	return func(o *options) error {
		o.engineOptions = append(o.engineOptions, reconcile.WithParallelism(n))
		return nil
	}
}

// WithLocker adds a cross-process run lock shared by every engine.
func WithLocker(l reconcile.Locker) Option {
	return func(o *options) error {
		o.engineOptions = append(o.engineOptions, reconcile.WithLocker(l))
		return nil
	}
}

// WithClock sets the clock used for watermarks.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.engineOptions = append(o.engineOptions, reconcile.WithClock(now))
		return nil
	}
}

// WithAutoSync configures whether scheduled sync starts with the client.
func WithAutoSync(enabled bool) Option {
	return func(o *options) error {
		o.autoSyncEnabled = enabled
		return nil
	}
}

// WithAutoSyncInterval configures how often scheduled sync runs. It does
// not enable scheduled sync on its own.
func WithAutoSyncInterval(interval time.Duration) Option {
	return func(o *options) error {
		if interval < constants.MinSyncInterval {
			return &errors.ValidationError{
				Field:   "autoSyncInterval",
				Value:   interval,
				Message: "interval must be at least " + constants.MinSyncInterval.String(),
			}
		}
		o.autoSyncInterval = interval
		return nil
	}
}

// WithAutoSyncFunc replaces the function run on every tick.
func WithAutoSyncFunc(fn AutoSyncFunc) Option {
	return func(o *options) error {
		o.autoSyncFunc = fn
		return nil
	}
}
