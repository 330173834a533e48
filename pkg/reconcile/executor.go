package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
	"github.com/agentstation/catsync/pkg/similarity"
)

// writer applies the writes of a pass. The live writer talks to the stores;
// the dry writer records what would happen for Preview.
type writer interface {
	listLocals(ctx context.Context) ([]entity.LocalRecord, error)
	createRemote(ctx context.Context, local entity.LocalRecord) (string, error)
	createLocal(ctx context.Context, row entity.RemoteRecord) (entity.LocalRecord, error)
	renameLocal(ctx context.Context, local entity.LocalRecord, name string) error
	renameRemote(ctx context.Context, local entity.LocalRecord, row entity.RemoteRecord, values []string) error
	markSynced(ctx context.Context, local entity.LocalRecord, ref string, at time.Time) error
}

type agreement struct {
	local entity.LocalRecord
	ref   string
}

// pass runs one direction over locals and the index. Remote rows created by
// a push pass are added to the index so a following pull pass sees them.
func (e *Engine) pass(ctx context.Context, dir Direction, locals []entity.LocalRecord, ix *Index, w writer, out *SyncOutcome, hooks Hooks) error {
	logger := logging.FromContext(ctx).With().Str("pass", string(dir)).Logger()

	m := NewMatcher(ix, e.threshold)
	results := m.Match(locals)

	var (
		agreements []agreement
		created    []*entity.RemoteRecord
	)

	for i, local := range locals {
		if ctx.Err() != nil {
			return canceled(ctx)
		}

		res := results[i]
		log := logger.With().Str("record", local.ID).Str("name", local.DisplayName).Str("match", res.Kind.String()).Logger()

		switch res.Kind {
		case FuzzyName:
			out.addDuplicate(PotentialDuplicate{Local: local, Remote: *res.Remote, Score: res.Score})
			out.Skipped++
			log.Debug().Str("remote", res.Remote.ExternalID).Float64("score", res.Score).Msg("potential duplicate")

		case NoMatch:
			if dir != DirectionPush {
				continue
			}
			if row, score := bestOf(created, local.DisplayName, e.threshold); row != nil {
				out.addDuplicate(PotentialDuplicate{Local: local, Remote: *row, Score: score})
				out.Skipped++
				log.Debug().Str("remote", row.ExternalID).Float64("score", score).Msg("potential duplicate of an item created in this run")
				continue
			}
			row, err := e.pushNew(ctx, local, ix, m, w, hooks)
			if row != nil {
				created = append(created, row)
				out.Created++
			}
			if err != nil {
				out.recordError(local.Label(), err)
				log.Warn().Err(err).Msg("remote create failed")
				continue
			}
			log.Debug().Str("remote", row.ExternalID).Msg("created remotely")

		case ExactID, ExactName:
			cls := Classify(local, *res.Remote)
			switch cls.Outcome {
			case Agreement:
				agreements = append(agreements, agreement{local: local, ref: res.Remote.ExternalID})

			case AutoUpdate:
				if dir == DirectionPush {
					out.Skipped++
					log.Debug().Msg("remote is newer, left for the pull pass")
					continue
				}
				if err := e.pullName(ctx, local, *res.Remote, w, hooks); err != nil {
					out.recordError(local.Label(), err)
					log.Warn().Err(err).Msg("local update failed")
					continue
				}
				out.Updated++
				log.Debug().Str("remote_name", res.Remote.Name()).Msg("updated from remote")

			case Conflict:
				// A watermarked record renamed locally since it last agreed is
				// the push side of a disagreement.
				if dir == DirectionPush && local.LastSyncedAt != nil {
					if err := e.pushName(ctx, local, res.Remote, ix, w, hooks); err != nil {
						out.recordError(local.Label(), err)
						log.Warn().Err(err).Msg("remote update failed")
						continue
					}
					out.Updated++
					log.Debug().Str("remote", res.Remote.ExternalID).Msg("updated remotely")
					continue
				}
				c := PendingConflict{Local: local, Remote: res.Remote.Clone(), LastSyncedAt: local.LastSyncedAt}
				out.Skipped++
				if out.addConflict(c) && hooks.OnConflict != nil {
					hooks.OnConflict(c)
				}
				log.Debug().Str("remote_name", res.Remote.Name()).Msg("conflict queued")
			}
		}
	}

	e.refresh(ctx, w, out, agreements)
	if ctx.Err() != nil {
		return canceled(ctx)
	}

	if dir == DirectionPull {
		return e.reverse(ctx, locals, results, m, w, out, hooks)
	}
	return nil
}

// reverse creates local records for remote rows no local record claimed.
// A row similar to an unlinked local record, or to a record created earlier
// in this pass, is reported instead of created.
func (e *Engine) reverse(ctx context.Context, locals []entity.LocalRecord, results []MatchResult, m *Matcher, w writer, out *SyncOutcome, hooks Hooks) error {
	logger := logging.FromContext(ctx)

	var candidates []entity.LocalRecord
	for i, local := range locals {
		if !results[i].Linked() {
			candidates = append(candidates, local)
		}
	}

	for _, row := range m.Unclaimed() {
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		log := logger.With().Str("remote", row.ExternalID).Str("name", row.Name()).Logger()

		if similarity.Normalize(row.Name()) == "" {
			out.Skipped++
			log.Debug().Msg("remote item has no name")
			continue
		}
		if local, score := bestLocal(candidates, row.Name(), e.threshold); local != nil {
			out.addDuplicate(PotentialDuplicate{Local: *local, Remote: row.Clone(), Score: score})
			out.Skipped++
			log.Debug().Str("record", local.ID).Float64("score", score).Msg("potential duplicate")
			continue
		}

		rec, err := w.createLocal(ctx, *row)
		if err != nil {
			out.recordError(row.Label(), err)
			log.Warn().Err(err).Msg("local create failed")
			continue
		}
		m.Claim(row.ExternalID, rec.ID)
		candidates = append(candidates, rec)
		out.Created++
		if hooks.OnLocalCreated != nil {
			hooks.OnLocalCreated(rec)
		}

		if err := w.markSynced(ctx, rec, row.ExternalID, e.now()); err != nil {
			out.recordError(row.Label(), err)
			log.Warn().Err(err).Msg("link failed")
			continue
		}
		log.Debug().Str("record", rec.ID).Msg("created locally")
	}
	return nil
}

// pushNew creates a remote item for an unmatched local record and links it.
// The returned row is non-nil whenever the remote item exists, even if the
// local link failed.
func (e *Engine) pushNew(ctx context.Context, local entity.LocalRecord, ix *Index, m *Matcher, w writer, hooks Hooks) (*entity.RemoteRecord, error) {
	if strings.TrimSpace(local.DisplayName) == "" {
		return nil, errors.NewValidationError("display_name", local.DisplayName, "cannot create a remote item without a name")
	}

	id, err := w.createRemote(ctx, local)
	if err != nil {
		return nil, err
	}
	row := ix.add(entity.RemoteRecord{ExternalID: id, Values: []string{local.DisplayName}})
	m.Claim(id, local.ID)
	if hooks.OnRemoteCreated != nil {
		hooks.OnRemoteCreated(local, row.Clone())
	}

	if err := w.markSynced(ctx, local, id, e.now()); err != nil {
		return row, fmt.Errorf("created remote item %s but could not link it: %w", id, err)
	}
	return row, nil
}

// pullName overwrites the local name with the remote one and refreshes the
// watermark after the rename.
func (e *Engine) pullName(ctx context.Context, local entity.LocalRecord, row entity.RemoteRecord, w writer, hooks Hooks) error {
	name := row.Name()
	if strings.TrimSpace(name) == "" {
		return errors.NewValidationError("display_name", name, "remote item has no name")
	}
	if err := w.renameLocal(ctx, local, name); err != nil {
		return err
	}
	if hooks.OnLocalUpdated != nil {
		hooks.OnLocalUpdated(local, name)
	}
	return w.markSynced(ctx, local, row.ExternalID, e.now())
}

// pushName overwrites the remote name with the local one, keeping the other
// values, and refreshes the watermark.
func (e *Engine) pushName(ctx context.Context, local entity.LocalRecord, row *entity.RemoteRecord, ix *Index, w writer, hooks Hooks) error {
	if strings.TrimSpace(local.DisplayName) == "" {
		return errors.NewValidationError("display_name", local.DisplayName, "cannot rename a remote item to an empty name")
	}
	values := row.WithName(local.DisplayName)
	if err := w.renameRemote(ctx, local, *row, values); err != nil {
		return err
	}
	ix.setValues(row, values)
	if hooks.OnRemoteUpdated != nil {
		hooks.OnRemoteUpdated(local, row.Clone())
	}
	return w.markSynced(ctx, local, row.ExternalID, e.now())
}

// refresh stamps the watermark of every agreeing record, in parallel.
func (e *Engine) refresh(ctx context.Context, w writer, out *SyncOutcome, agreements []agreement) {
	if len(agreements) == 0 {
		return
	}

	errs := make([]error, len(agreements))
	done := make([]bool, len(agreements))

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, a := range agreements {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			errs[i] = w.markSynced(ctx, a.local, a.ref, e.now())
			done[i] = errs[i] == nil
			return nil
		})
	}
	_ = g.Wait()

	for i, a := range agreements {
		switch {
		case errs[i] != nil:
			out.recordError(a.local.Label(), errs[i])
		case done[i]:
			out.Unchanged++
		}
	}
}

func bestOf(rows []*entity.RemoteRecord, name string, threshold float64) (*entity.RemoteRecord, float64) {
	var (
		best      *entity.RemoteRecord
		bestScore float64
	)
	for _, row := range rows {
		if score := similarity.Score(name, row.Name()); score > bestScore {
			best, bestScore = row, score
		}
	}
	if best == nil || bestScore < threshold {
		return nil, 0
	}
	return best, bestScore
}

func bestLocal(locals []entity.LocalRecord, name string, threshold float64) (*entity.LocalRecord, float64) {
	var (
		best      *entity.LocalRecord
		bestScore float64
	)
	for i := range locals {
		if score := similarity.Score(name, locals[i].DisplayName); score > bestScore {
			best, bestScore = &locals[i], score
		}
	}
	if best == nil || bestScore < threshold {
		return nil, 0
	}
	return best, bestScore
}

// liveWriter writes through to the stores.
type liveWriter struct {
	engine *Engine
}

func (w *liveWriter) listLocals(ctx context.Context) ([]entity.LocalRecord, error) {
	locals, err := w.engine.local.ListAll(ctx, w.engine.kind)
	return locals, errors.WrapResource("list", string(w.engine.kind), "", err)
}

func (w *liveWriter) createRemote(ctx context.Context, local entity.LocalRecord) (string, error) {
	return w.engine.remote.CreateItem(ctx, w.engine.catalogID, []string{local.DisplayName})
}

func (w *liveWriter) createLocal(ctx context.Context, row entity.RemoteRecord) (entity.LocalRecord, error) {
	return w.engine.local.Create(ctx, w.engine.kind, row.Name())
}

func (w *liveWriter) renameLocal(ctx context.Context, local entity.LocalRecord, name string) error {
	return w.engine.local.UpdateName(ctx, w.engine.kind, local.ID, name)
}

func (w *liveWriter) renameRemote(ctx context.Context, _ entity.LocalRecord, row entity.RemoteRecord, values []string) error {
	return w.engine.remote.UpdateItem(ctx, w.engine.catalogID, row.ExternalID, values)
}

func (w *liveWriter) markSynced(ctx context.Context, local entity.LocalRecord, ref string, at time.Time) error {
	return w.engine.local.UpdateSyncMeta(ctx, w.engine.kind, local.ID, &ref, &at)
}

const pendingPrefix = "pending-"

// dryWriter simulates writes against a copy of the local records.
type dryWriter struct {
	mu      sync.Mutex
	kind    entity.Kind
	preview *Preview
	locals  []entity.LocalRecord
	seq     int
}

func newDryWriter(kind entity.Kind, locals []entity.LocalRecord, preview *Preview) *dryWriter {
	return &dryWriter{
		kind:    kind,
		preview: preview,
		locals:  append([]entity.LocalRecord(nil), locals...),
	}
}

func (w *dryWriter) listLocals(context.Context) ([]entity.LocalRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]entity.LocalRecord(nil), w.locals...), nil
}

func (w *dryWriter) createRemote(_ context.Context, local entity.LocalRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	w.preview.ToCreateRemote = append(w.preview.ToCreateRemote, local)
	return fmt.Sprintf("%sremote-%d", pendingPrefix, w.seq), nil
}

func (w *dryWriter) createLocal(_ context.Context, row entity.RemoteRecord) (entity.LocalRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec := entity.LocalRecord{
		ID:          fmt.Sprintf("%slocal-%d", pendingPrefix, w.seq),
		Kind:        w.kind,
		DisplayName: row.Name(),
	}
	w.locals = append(w.locals, rec)
	w.preview.ToCreateLocal = append(w.preview.ToCreateLocal, row.Clone())
	return rec, nil
}

func (w *dryWriter) renameLocal(_ context.Context, local entity.LocalRecord, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.preview.ToUpdateLocal = append(w.preview.ToUpdateLocal, LocalUpdate{Local: local, RemoteName: name})
	for i := range w.locals {
		if w.locals[i].ID == local.ID {
			w.locals[i].DisplayName = name
		}
	}
	return nil
}

func (w *dryWriter) renameRemote(_ context.Context, local entity.LocalRecord, row entity.RemoteRecord, _ []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.preview.ToUpdateRemote = append(w.preview.ToUpdateRemote, RemoteUpdate{Local: local, Remote: row.Clone()})
	return nil
}

func (w *dryWriter) markSynced(_ context.Context, local entity.LocalRecord, ref string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.locals {
		if w.locals[i].ID == local.ID {
			w.locals[i].ExternalRef = ref
			w.locals[i].LastSyncedAt = &at
		}
	}
	return nil
}
