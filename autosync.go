package catsync

import (
	"context"
	"time"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
)

// AutoSyncFunc runs on every scheduled tick. The default syncs every
// configured binding.
type AutoSyncFunc func(ctx context.Context, c Client) error

// AutoSyncer provides controls for scheduled sync.
type AutoSyncer interface {
	// AutoSyncOn starts scheduled sync, restarting it if already running
	AutoSyncOn() error

	// AutoSyncOff stops scheduled sync and waits for an in-flight tick
	AutoSyncOff() error
}

// AutoSyncOn starts scheduled sync.
func (c *client) AutoSyncOn() error {
	interval := c.options.autoSyncInterval
	if interval <= 0 {
		return &errors.ValidationError{
			Field:   "autoSyncInterval",
			Value:   interval,
			Message: "sync interval must be positive",
		}
	}
	if c.options.autoSyncFunc == nil && len(c.options.bindings) == 0 {
		return errors.NewValidationError("bindings", nil, "scheduled sync needs at least one binding")
	}

	if err := c.AutoSyncOff(); err != nil {
		return err
	}

	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	done := make(chan struct{})
	c.autoTicker, c.autoStop, c.autoCancel, c.autoDone = ticker, stop, cancel, done

	fn := c.options.autoSyncFunc
	if fn == nil {
		fn = syncAllBindings
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				tickCtx, tickCancel := context.WithTimeout(ctx, constants.CommandTimeout)
				err := fn(tickCtx, c)
				tickCancel()

				switch {
				case err == nil:
				case ctx.Err() != nil:
					return
				case errors.Is(err, context.DeadlineExceeded) || errors.IsCanceled(err):
					logging.Warn().Err(err).Dur("timeout", constants.CommandTimeout).Msg("scheduled sync tick timed out")
				default:
					logging.Error().Err(err).Msg("scheduled sync failed")
				}
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	logging.Info().Dur("interval", interval).Msg("scheduled sync started")
	return nil
}

// AutoSyncOff stops scheduled sync. It is safe to call when not running.
func (c *client) AutoSyncOff() error {
	c.autoMu.Lock()
	ticker, stop, cancel, done := c.autoTicker, c.autoStop, c.autoCancel, c.autoDone
	c.autoTicker, c.autoStop, c.autoCancel, c.autoDone = nil, nil, nil, nil
	c.autoMu.Unlock()

	if ticker == nil {
		return nil
	}
	ticker.Stop()
	cancel()
	close(stop)
	<-done
	return nil
}

func syncAllBindings(ctx context.Context, c Client) error {
	outcomes, err := c.SyncAll(ctx)
	for _, o := range outcomes {
		event := logging.Info()
		if o.NeedsAttention() {
			event = logging.Warn()
		}
		event.Str("run_id", o.RunID).Msg(o.Summary())
	}
	return err
}
