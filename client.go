// Package catsync keeps local entity records and remote catalogs in sync.
//
// A Client owns one local store and one remote catalog and serves any
// number of (kind, catalog) bindings. Each binding gets its own
// reconcile.Engine, created on first use and reused afterwards so that
// concurrent runs on a binding are rejected rather than interleaved.
//
// Example usage:
//
//	store, err := sqlite.Open(ctx, "catsync.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	remote, err := transport.NewCatalog("https://catalog.example.com/v1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := catsync.New(store, remote,
//	    catsync.WithBinding(entity.KindRoom, "rooms"),
//	    catsync.WithAutoSyncInterval(15*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.AutoSyncOff()
//
//	client.OnConflict(func(b catsync.Binding, c reconcile.PendingConflict) {
//	    log.Printf("%s: %s needs a decision", b, c.Local.DisplayName)
//	})
//
//	outcome, err := client.Sync(ctx, entity.KindRoom, "rooms")
package catsync

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
	"github.com/agentstation/catsync/pkg/reconcile"
)

// Binding pairs a local entity kind with a remote catalog.
type Binding struct {
	Kind      entity.Kind `json:"kind" yaml:"kind"`
	CatalogID string      `json:"catalog" yaml:"catalog"`
}

// String returns "kind/catalog".
func (b Binding) String() string {
	return string(b.Kind) + "/" + b.CatalogID
}

// Compile-time interface check to ensure proper implementation.
var _ Client = (*client)(nil)

// Syncer runs sync passes for a binding.
type Syncer interface {
	// Preview reports what Sync would do without writing anything
	Preview(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.Preview, error)

	// Pull applies remote changes to the local store
	Pull(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error)

	// Push creates unlinked local records in the remote catalog
	Push(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error)

	// Sync runs a push pass then a pull pass
	Sync(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error)

	// SyncAll runs Sync for every configured binding
	SyncAll(ctx context.Context) ([]*reconcile.SyncOutcome, error)
}

// Resolver lists and applies human decisions.
type Resolver interface {
	// DetectConflicts lists conflicts and potential duplicates as decisions
	DetectConflicts(ctx context.Context, kind entity.Kind, catalogID string) ([]reconcile.ConflictDecision, error)

	// Resolve applies decisions
	Resolve(ctx context.Context, kind entity.Kind, catalogID string, decisions []reconcile.ConflictDecision) (*reconcile.ResolveResult, error)
}

// Client syncs configured bindings between a local store and a remote catalog.
type Client interface {

	// Syncer runs sync passes
	Syncer

	// Resolver handles conflicts
	Resolver

	// AutoSyncer provides access to scheduled sync controls
	AutoSyncer

	// Hooks provides access to event callback registration
	Hooks

	// Bindings returns the configured bindings
	Bindings() []Binding
}

// client is the internal implementation of the Client interface.
type client struct {
	options *options
	local   entity.LocalStore
	remote  entity.RemoteCatalog
	hooks   *hooks

	mu      sync.Mutex
	engines map[Binding]*reconcile.Engine

	// scheduled sync state
	autoMu     sync.Mutex
	autoTicker *time.Ticker
	autoStop   chan struct{}
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

// New creates a Client over local and remote.
func New(local entity.LocalStore, remote entity.RemoteCatalog, opts ...Option) (Client, error) {
	if local == nil || remote == nil {
		return nil, errors.NewValidationError("store", nil, "local store and remote catalog are required")
	}

	o, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}

	c := &client{
		options: o,
		local:   local,
		remote:  remote,
		hooks:   newHooks(),
		engines: make(map[Binding]*reconcile.Engine),
	}

	logging.Debug().Int("bindings", len(o.bindings)).Msg("catsync client created")

	if o.autoSyncEnabled {
		if err := c.AutoSyncOn(); err != nil {
			return nil, errors.WrapResource("start", "auto-sync", "", err)
		}
	}
	return c, nil
}

// Bindings returns the configured bindings.
func (c *client) Bindings() []Binding {
	out := make([]Binding, len(c.options.bindings))
	copy(out, c.options.bindings)
	return out
}

// Preview implements Syncer.
func (c *client) Preview(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.Preview, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.Preview(ctx)
}

// Pull implements Syncer.
func (c *client) Pull(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.Pull(ctx)
}

// Push implements Syncer.
func (c *client) Push(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.Push(ctx)
}

// Sync implements Syncer.
func (c *client) Sync(ctx context.Context, kind entity.Kind, catalogID string) (*reconcile.SyncOutcome, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.Bidirectional(ctx)
}

// SyncAll implements Syncer. Bindings run one after another; a failing
// binding does not stop the rest. The returned error joins every failure.
func (c *client) SyncAll(ctx context.Context) ([]*reconcile.SyncOutcome, error) {
	var (
		outcomes []*reconcile.SyncOutcome
		errs     []error
	)
	for _, b := range c.options.bindings {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := c.Sync(ctx, b.Kind, b.CatalogID)
		if out != nil {
			outcomes = append(outcomes, out)
		}
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("binding", b.String()).Msg("sync failed")
			errs = append(errs, errors.WrapResource("sync", "binding", b.String(), err))
		}
	}
	return outcomes, errors.Join(errs...)
}

// DetectConflicts implements Resolver.
func (c *client) DetectConflicts(ctx context.Context, kind entity.Kind, catalogID string) ([]reconcile.ConflictDecision, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.DetectConflicts(ctx)
}

// Resolve implements Resolver.
func (c *client) Resolve(ctx context.Context, kind entity.Kind, catalogID string, decisions []reconcile.ConflictDecision) (*reconcile.ResolveResult, error) {
	e, err := c.engine(kind, catalogID)
	if err != nil {
		return nil, err
	}
	return e.Resolve(ctx, decisions)
}

// engine returns the cached engine for a binding, creating it on first use.
func (c *client) engine(kind entity.Kind, catalogID string) (*reconcile.Engine, error) {
	kind, err := entity.ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	b := Binding{Kind: kind, CatalogID: catalogID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.engines[b]; ok {
		return e, nil
	}

	opts := append([]reconcile.Option{reconcile.WithHooks(c.hooks.forBinding(b))}, c.options.engineOptions...)
	e, err := reconcile.New(kind, catalogID, c.local, c.remote, opts...)
	if err != nil {
		return nil, err
	}
	c.engines[b] = e
	return e, nil
}
