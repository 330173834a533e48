// Package reconcile keeps a local store and a remote catalog consistent.
//
// An Engine is bound to one entity kind and one remote catalog. Each run
// indexes a fresh remote snapshot, matches every local record against it,
// classifies linked pairs against the local watermark and then writes only
// what can be written without a human decision. Conflicts and potential
// duplicates are reported and left for Resolve.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
	"github.com/agentstation/catsync/pkg/similarity"
)

// Engine reconciles one (kind, catalog) binding.
type Engine struct {
	kind      entity.Kind
	catalogID string
	local     entity.LocalStore
	remote    entity.RemoteCatalog

	now         func() time.Time
	parallelism int
	threshold   float64
	locker      Locker
	hooks       Hooks

	mu sync.Mutex
}

// New creates an engine for a binding.
func New(kind entity.Kind, catalogID string, local entity.LocalStore, remote entity.RemoteCatalog, opts ...Option) (*Engine, error) {
	if kind == "" {
		return nil, errors.NewValidationError("kind", kind, "kind is required")
	}
	if catalogID == "" {
		return nil, errors.NewValidationError("catalog", catalogID, "catalog is required")
	}
	if local == nil || remote == nil {
		return nil, errors.NewValidationError("store", nil, "local store and remote catalog are required")
	}

	e := &Engine{
		kind:        kind,
		catalogID:   catalogID,
		local:       local,
		remote:      remote,
		now:         time.Now,
		parallelism: constants.DefaultParallelism,
		threshold:   similarity.DuplicateThreshold,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Kind returns the bound entity kind.
func (e *Engine) Kind() entity.Kind {
	return e.kind
}

// CatalogID returns the bound remote catalog.
func (e *Engine) CatalogID() string {
	return e.catalogID
}

// Pull brings remote changes into the local store. It never writes remotely.
func (e *Engine) Pull(ctx context.Context) (*SyncOutcome, error) {
	return e.Run(ctx, DirectionPull)
}

// Push sends local records missing from the catalog. It never creates local
// records.
func (e *Engine) Push(ctx context.Context) (*SyncOutcome, error) {
	return e.Run(ctx, DirectionPush)
}

// Bidirectional runs a push pass then a pull pass over one snapshot.
func (e *Engine) Bidirectional(ctx context.Context) (*SyncOutcome, error) {
	return e.Run(ctx, DirectionBidirectional)
}

// Run executes a sync run in the given direction. On cancellation the
// outcome of the writes made so far is returned with the error.
func (e *Engine) Run(ctx context.Context, dir Direction) (*SyncOutcome, error) {
	switch dir {
	case DirectionPull, DirectionPush, DirectionBidirectional:
	default:
		return nil, errors.NewValidationError("direction", dir, "direction must be pull, push or bidirectional")
	}

	unlock, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID := uuid.NewString()
	started := e.now()
	ctx = e.withLogger(ctx, string(dir), runID)
	logger := logging.FromContext(ctx)
	logger.Info().Msg("sync run started")

	locals, ix, err := e.load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("sync run aborted before any write")
		return nil, err
	}

	w := &liveWriter{engine: e}
	var out *SyncOutcome
	switch dir {
	case DirectionBidirectional:
		out, err = e.bidirectional(ctx, runID, started, locals, ix, w, e.hooks)
	default:
		out = e.newOutcome(runID, started, dir)
		err = e.pass(ctx, dir, locals, ix, w, out, e.hooks)
	}
	out.Duration = e.now().Sub(started)

	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Int("created", out.Created).
		Int("updated", out.Updated).
		Int("unchanged", out.Unchanged).
		Int("skipped", out.Skipped).
		Int("conflicts", len(out.Conflicts)).
		Int("duplicates", len(out.Duplicates)).
		Int("errors", len(out.Errors)).
		Dur("duration", out.Duration).
		Msg("sync run finished")

	return out, err
}

// bidirectional pushes first so records created remotely are linked before
// the pull pass looks for remote rows to copy locally. Both passes usually
// see the same conflict, so OnConflict fires once per record after them.
func (e *Engine) bidirectional(ctx context.Context, runID string, started time.Time, locals []entity.LocalRecord, ix *Index, w writer, hooks Hooks) (*SyncOutcome, error) {
	passHooks := hooks
	passHooks.OnConflict = nil

	push := e.newOutcome(runID, started, DirectionPush)
	pull, err := e.pushThenPull(ctx, runID, started, locals, ix, w, push, passHooks)
	out := combine(push, pull)

	if hooks.OnConflict != nil {
		for _, c := range out.Conflicts {
			hooks.OnConflict(c)
		}
	}
	return out, err
}

// pushThenPull returns a nil pull outcome when the pull pass never started.
func (e *Engine) pushThenPull(ctx context.Context, runID string, started time.Time, locals []entity.LocalRecord, ix *Index, w writer, push *SyncOutcome, hooks Hooks) (*SyncOutcome, error) {
	if err := e.pass(ctx, DirectionPush, locals, ix, w, push, hooks); err != nil {
		return nil, err
	}

	locals, err := w.listLocals(ctx)
	if err != nil {
		return nil, err
	}

	pull := e.newOutcome(runID, started, DirectionPull)
	err = e.pass(ctx, DirectionPull, locals, ix, w, pull, hooks)
	return pull, err
}

// load lists local records and fetches the remote snapshot concurrently.
func (e *Engine) load(ctx context.Context) ([]entity.LocalRecord, *Index, error) {
	var (
		locals   []entity.LocalRecord
		snapshot []entity.RemoteRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		locals, err = e.local.ListAll(gctx, e.kind)
		return errors.WrapResource("list", string(e.kind), "", err)
	})
	g.Go(func() error {
		var err error
		snapshot, err = e.remote.FetchSnapshot(gctx, e.catalogID)
		if err != nil && !errors.IsTransport(err) {
			return errors.WrapTransport(e.catalogID, "fetch snapshot", err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	logging.FromContext(ctx).Debug().
		Int("local_records", len(locals)).
		Int("remote_rows", len(snapshot)).
		Msg("loaded both sides")
	return locals, BuildIndex(snapshot), nil
}

func (e *Engine) acquire() (func(), error) {
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("%s: %w", e.key(), errors.ErrRunInProgress)
	}
	if e.locker == nil {
		return e.mu.Unlock, nil
	}
	release, err := e.locker.TryLock(e.key())
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		e.mu.Unlock()
	}, nil
}

func (e *Engine) key() string {
	return string(e.kind) + "/" + e.catalogID
}

func (e *Engine) newOutcome(runID string, started time.Time, dir Direction) *SyncOutcome {
	return &SyncOutcome{
		RunID:     runID,
		Kind:      e.kind,
		CatalogID: e.catalogID,
		Direction: dir,
		StartedAt: started,
	}
}

func (e *Engine) withLogger(ctx context.Context, operation, runID string) context.Context {
	ctx = logging.WithKind(ctx, string(e.kind))
	ctx = logging.WithCatalog(ctx, e.catalogID)
	ctx = logging.WithOperation(ctx, operation)
	return logging.WithRunID(ctx, runID)
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())
}
