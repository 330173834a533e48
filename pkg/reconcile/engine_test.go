package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	remotemem "github.com/agentstation/catsync/internal/remote/memory"
	storemem "github.com/agentstation/catsync/internal/store/memory"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/reconcile"
)

func TestNew_Validation(t *testing.T) {
	local, remote := storemem.New(), remotemem.New()

	_, err := reconcile.New("", catalogID, local, remote)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconcile.New(entity.KindRoom, "", local, remote)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconcile.New(entity.KindRoom, catalogID, nil, remote)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconcile.New(entity.KindRoom, catalogID, local, remote, reconcile.WithParallelism(0))
	assert.True(t, errors.IsValidationError(err))
	_, err = reconcile.New(entity.KindRoom, catalogID, local, remote, reconcile.WithThreshold(1.5))
	assert.True(t, errors.IsValidationError(err))

	e, err := reconcile.New(entity.KindRoom, catalogID, local, remote)
	require.NoError(t, err)
	assert.Equal(t, entity.KindRoom, e.Kind())
	assert.Equal(t, catalogID, e.CatalogID())

	_, err = e.Run(context.Background(), "sideways")
	assert.True(t, errors.IsValidationError(err))
}

func TestPush_ExactNameLinksWithoutWriting(t *testing.T) {
	f := newFixture(t)
	f.put("art", "Art Room", "", base, nil)
	f.seed("42", "Art Room")

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Unchanged: 1}, countsOf(out)))
	assert.Equal(t, 0, f.remote.Writes())

	rec := f.get(t, "art")
	assert.Equal(t, "42", rec.ExternalRef)
	require.NotNil(t, rec.LastSyncedAt)
	assert.True(t, rec.LastSyncedAt.After(base))
	assert.Equal(t, base, rec.UpdatedAt)
}

func TestPush_DissimilarNameCreatesRemoteItem(t *testing.T) {
	f := newFixture(t)
	f.put("art", "Art Room", "", base, nil)
	f.seed("42", "Art Studio")

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Created: 1}, countsOf(out)))
	rows := f.remote.Rows(catalogID)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Art Room"}, rows[1].Values)

	rec := f.get(t, "art")
	assert.Equal(t, rows[1].ExternalID, rec.ExternalRef)
	assert.NotNil(t, rec.LastSyncedAt)
}

func TestPotentialDuplicateBlocksBothDirections(t *testing.T) {
	for _, dir := range []reconcile.Direction{reconcile.DirectionPush, reconcile.DirectionPull, reconcile.DirectionBidirectional} {
		t.Run(string(dir), func(t *testing.T) {
			f := newFixture(t)
			f.put("hall", "Hall 1", "", base, nil)
			f.seed("7", "Hall  1")

			out, err := f.engine.Run(context.Background(), dir)
			require.NoError(t, err)

			assert.Equal(t, 0, out.Created)
			require.Len(t, out.Duplicates, 1)
			assert.Equal(t, "hall", out.Duplicates[0].Local.ID)
			assert.Equal(t, "7", out.Duplicates[0].Remote.ExternalID)
			assert.GreaterOrEqual(t, out.Duplicates[0].Score, 0.75)

			assert.Equal(t, 0, f.remote.Writes())
			assert.Len(t, f.locals(t), 1)
			assert.Empty(t, f.get(t, "hall").ExternalRef)
		})
	}
}

func TestPull_AutoUpdateFromRemote(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(time.Hour)
	f.put("gym", "Gym", "1", base, &synced)
	f.seed("1", "Gymnasium")

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{Updated: 1}, countsOf(out)))

	rec := f.get(t, "gym")
	assert.Equal(t, "Gymnasium", rec.DisplayName)
	require.NotNil(t, rec.LastSyncedAt)
	assert.True(t, rec.LastSyncedAt.After(synced), "watermark must be refreshed")
	assert.False(t, rec.UpdatedAt.After(*rec.LastSyncedAt), "watermark is taken after the rename")
	assert.Equal(t, 0, f.remote.Writes())

	again, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{Unchanged: 1}, countsOf(again)))
}

func TestPush_SkipsAutoUpdate(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(time.Hour)
	f.put("gym", "Gym", "1", base, &synced)
	f.seed("1", "Gymnasium")

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Skipped: 1}, countsOf(out)))
	assert.Equal(t, 0, f.remote.Writes())
	assert.Equal(t, "Gym", f.get(t, "gym").DisplayName)
	assert.Equal(t, synced, *f.get(t, "gym").LastSyncedAt)
}

func TestPush_RenamesRemoteAfterLocalEdit(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(-2 * time.Hour)
	f.put("hall", "Main Hall", "1", base.Add(-time.Hour), &synced)
	f.seed("1", "Hall", "floor-2")

	var updated []entity.RemoteRecord
	f = withHooks(t, f, reconcile.Hooks{
		OnRemoteUpdated: func(_ entity.LocalRecord, r entity.RemoteRecord) { updated = append(updated, r) },
		OnConflict:      func(reconcile.PendingConflict) { t.Error("no conflict expected") },
	})

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Updated: 1}, countsOf(out)))
	assert.Empty(t, out.Conflicts)
	assert.Equal(t, []string{"Main Hall", "floor-2"}, f.remote.Rows(catalogID)[0].Values, "opaque values are preserved")
	assert.Equal(t, 1, f.remote.Writes())
	require.Len(t, updated, 1)
	assert.Equal(t, "Main Hall", updated[0].Name())

	rec := f.get(t, "hall")
	assert.Equal(t, "Main Hall", rec.DisplayName)
	require.NotNil(t, rec.LastSyncedAt)
	assert.False(t, rec.UpdatedAt.After(*rec.LastSyncedAt), "watermark is refreshed after the remote rename")

	again, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{Unchanged: 1}, countsOf(again)))
	assert.Equal(t, 1, f.remote.Writes())
}

func TestPush_RemoteRenameFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(-2 * time.Hour)
	f.put("hall", "Main Hall", "1", base.Add(-time.Hour), &synced)
	f.seed("1", "Hall")
	f.remote.SetFault(func(op remotemem.Op, _, _ string) error {
		if op == remotemem.OpUpdate {
			return errors.ErrUnavailable
		}
		return nil
	})

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{}, countsOf(out)))
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "Main Hall: ")
	assert.Equal(t, synced, *f.get(t, "hall").LastSyncedAt, "watermark untouched when the remote write fails")
}

func TestPull_LocalEditAfterWatermarkIsAConflict(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(-2 * time.Hour)
	f.put("hall", "Main Hall", "1", base.Add(-time.Hour), &synced)
	f.seed("1", "Hall", "floor-2")

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Skipped: 1}, countsOf(out)))
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, &synced, out.Conflicts[0].LastSyncedAt)
	assert.Equal(t, 0, f.remote.Writes())
	assert.Equal(t, "Main Hall", f.get(t, "hall").DisplayName)
}

func TestBidirectional_ReportsEachConflictOnce(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "1", base, nil)
	f.seed("1", "Gymnasium")

	var hooked int
	f = withHooks(t, f, reconcile.Hooks{OnConflict: func(reconcile.PendingConflict) { hooked++ }})

	out, err := f.engine.Bidirectional(context.Background())
	require.NoError(t, err)

	require.NotNil(t, out.Push)
	require.NotNil(t, out.Pull)
	assert.Len(t, out.Push.Conflicts, 1)
	assert.Len(t, out.Pull.Conflicts, 1)
	assert.Len(t, out.Conflicts, 1)
	assert.Equal(t, 1, hooked, "the hook fires once per record and run")
}

func TestMissingWatermarkIsAConflict(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "1", base.AddDate(-3, 0, 0), nil)
	f.seed("1", "Gymnasium")

	var hooked []reconcile.PendingConflict
	f = withHooks(t, f, reconcile.Hooks{OnConflict: func(c reconcile.PendingConflict) { hooked = append(hooked, c) }})

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Skipped: 1}, countsOf(out)))
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "gym", out.Conflicts[0].Local.ID)
	assert.Equal(t, "Gymnasium", out.Conflicts[0].Remote.Name())
	assert.Nil(t, out.Conflicts[0].LastSyncedAt)
	assert.Len(t, hooked, 1)

	rec := f.get(t, "gym")
	assert.Equal(t, "Gym", rec.DisplayName)
	assert.Nil(t, rec.LastSyncedAt)
}

func TestPull_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed("1", "Gym", "floor 1")
	f.seed("2", "Pool")
	f.remote.Seed(catalogID, entity.RemoteRecord{ExternalID: "3", Values: []string{"Attic"}, Deleted: true})

	first, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{Created: 2}, countsOf(first)))

	locals := f.locals(t)
	require.Len(t, locals, 2)
	for _, rec := range locals {
		assert.NotEmpty(t, rec.ExternalRef)
		require.NotNil(t, rec.LastSyncedAt)
		assert.False(t, rec.UpdatedAt.After(*rec.LastSyncedAt))
	}

	second, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, 0, f.remote.Writes(), "pull never writes remotely")
}

func TestPush_NeverCreatesLocally(t *testing.T) {
	f := newFixture(t)
	f.seed("1", "Gym")

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Created)
	assert.Empty(t, f.locals(t))
}

func TestPush_GuardsDuplicatesWithinTheRun(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "gym ", "", base, nil)

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(counts{Created: 1, Skipped: 1}, countsOf(out)))
	require.Len(t, out.Duplicates, 1)
	assert.Equal(t, "b", out.Duplicates[0].Local.ID)
	assert.Len(t, f.remote.Rows(catalogID), 1)
}

func TestPull_ReverseGuardsAgainstUnlinkedLocals(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "1", base, ptr(base))
	f.seed("1", "Gym")
	f.seed("2", "Gym 2")

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)

	// Linked records are not candidates, so the similar row is created.
	assert.Equal(t, 1, out.Created)
	assert.Empty(t, out.Duplicates)

	f2 := newFixture(t)
	f2.put("studio", "Studio", "", base, nil)
	f2.seed("1", "Studio 1")
	f2.seed("2", "Studio 2")

	out, err = f2.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Created)
	assert.Len(t, out.Duplicates, 2)
}

func TestPull_RelinksWhenRefIsDeleted(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "1", base, ptr(base))
	f.remote.Seed(catalogID, entity.RemoteRecord{ExternalID: "1", Values: []string{"Gym"}, Deleted: true})
	f.seed("2", "Gym")

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Created)
	assert.Equal(t, 1, out.Unchanged)
	assert.Equal(t, "2", f.get(t, "gym").ExternalRef)
}

func TestBidirectional_PushesBeforePulling(t *testing.T) {
	clock := newClock(base)
	j := &journal{}
	local := storemem.New(storemem.WithClock(clock.Now))
	remote := remotemem.New()
	local.Put(entity.LocalRecord{ID: "gym", Kind: entity.KindRoom, DisplayName: "Gym", UpdatedAt: base})
	remote.Seed(catalogID, entity.RemoteRecord{ExternalID: "1", Values: []string{"Pool"}})

	e, err := reconcile.New(entity.KindRoom, catalogID,
		journaledStore{LocalStore: local, j: j},
		journaledCatalog{RemoteCatalog: remote, j: j},
		reconcile.WithClock(clock.Now))
	require.NoError(t, err)

	out, err := e.Bidirectional(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"remote:Gym", "local:Pool"}, j.list())
	assert.Equal(t, reconcile.DirectionBidirectional, out.Direction)
	require.NotNil(t, out.Push)
	require.NotNil(t, out.Pull)
	assert.Equal(t, 1, out.Push.Created)
	assert.Equal(t, 1, out.Pull.Created)
	assert.Equal(t, 1, out.Pull.Unchanged, "pull sees the item the push pass created")
	assert.Empty(t, cmp.Diff(counts{Created: 2, Unchanged: 1}, countsOf(out)))
	assert.Equal(t, out.RunID, out.Push.RunID)

	locals, err := local.ListAll(context.Background(), entity.KindRoom)
	require.NoError(t, err)
	assert.Len(t, locals, 2)
	assert.Len(t, remote.Rows(catalogID), 2)

	again, err := e.Bidirectional(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts{Unchanged: 2}, countsOf(again)))
	assert.Len(t, j.list(), 2, "a second run creates nothing")
}

// Running pull before push would not create more here. Each pass checks
// names against records that are still unlinked, or were created earlier in
// the same run, before creating anything, and the two checks mirror each
// other. A reversed order therefore yields the same counts, so the order is
// pinned by the write journal in TestBidirectional_PushesBeforePulling.
func TestBidirectional_EmptyCatalogCreatesEachRecordOnce(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "Library", "", base, nil)
	f.put("c", "Kiln", "", base, nil)

	out, err := f.engine.Bidirectional(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, out.Created)
	assert.Equal(t, 3, out.Push.Created)
	assert.Equal(t, 0, out.Pull.Created)
	assert.Len(t, f.locals(t), 3)
	assert.Len(t, f.remote.Rows(catalogID), 3)
}

func TestPerRecordFailuresDoNotStopTheRun(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "Pool", "", base, nil)
	f.put("c", "Lab", "", base, nil)
	f.remote.SetFault(func(op remotemem.Op, _, key string) error {
		if op == remotemem.OpCreate && key == "Pool" {
			return errors.New("boom")
		}
		return nil
	})

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, out.Created)
	assert.Equal(t, []string{"Pool: boom"}, out.Errors)
	assert.True(t, out.HasErrors())
	assert.Empty(t, f.get(t, "b").ExternalRef)
	assert.NotEmpty(t, f.get(t, "c").ExternalRef)
}

func TestLinkFailureAfterRemoteCreate(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.local.SetFault(func(op storemem.Op, key string) error {
		if op == storemem.OpUpdateSyncMeta {
			return errors.New("locked")
		}
		return nil
	})

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Created)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "could not link")

	// The next run links the orphan by exact name instead of creating again.
	f.local.SetFault(nil)
	out, err = f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Created)
	assert.Equal(t, 1, out.Unchanged)
	assert.Len(t, f.remote.Rows(catalogID), 1)
}

func TestTransportFailureAbortsBeforeWrites(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.remote.SetFault(func(op remotemem.Op, _, _ string) error {
		if op == remotemem.OpFetch {
			return errors.NewAPIError(catalogID, 503, "maintenance")
		}
		return nil
	})

	out, err := f.engine.Bidirectional(context.Background())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.IsTransport(err))
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, 0, f.remote.Writes())
	assert.Empty(t, f.get(t, "a").ExternalRef)
}

func TestLocalListingFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.seed("1", "Gym")
	f.local.SetFault(func(op storemem.Op, _ string) error {
		if op == storemem.OpList {
			return errors.New("database is locked")
		}
		return nil
	})

	_, err := f.engine.Pull(context.Background())
	require.Error(t, err)
	var rerr *errors.ResourceError
	assert.ErrorAs(t, err, &rerr)
}

func TestCancellationStopsAtRecordBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "Pool", "", base, nil)
	f.put("c", "Lab", "", base, nil)
	f = withHooks(t, f, reconcile.Hooks{
		OnRemoteCreated: func(entity.LocalRecord, entity.RemoteRecord) { cancel() },
	})

	out, err := f.engine.Push(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsCanceled(err))

	require.NotNil(t, out)
	assert.Equal(t, 1, out.Created, "the write made before cancellation stands")
	assert.Len(t, f.remote.Rows(catalogID), 1)
	assert.NotEmpty(t, f.get(t, "a").ExternalRef)
	assert.Empty(t, f.get(t, "b").ExternalRef)
}

func TestConcurrentRunsAreRejected(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)

	var nested error
	var nestedResolve error
	f = withHooks(t, f, reconcile.Hooks{
		OnRemoteCreated: func(entity.LocalRecord, entity.RemoteRecord) {
			_, nested = f.engine.Pull(context.Background())
			_, nestedResolve = f.engine.Resolve(context.Background(), nil)
		},
	})

	_, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, nested, errors.ErrRunInProgress)
	assert.ErrorIs(t, nestedResolve, errors.ErrRunInProgress)

	// The lock is released once the run returns.
	_, err = f.engine.Pull(context.Background())
	assert.NoError(t, err)
}

type busyLocker struct{ keys []string }

func (l *busyLocker) TryLock(key string) (func(), error) {
	l.keys = append(l.keys, key)
	return nil, errors.ErrRunInProgress
}

func TestExternalLockerIsConsulted(t *testing.T) {
	locker := &busyLocker{}
	f := newFixture(t, reconcile.WithLocker(locker))

	_, err := f.engine.Pull(context.Background())
	assert.ErrorIs(t, err, errors.ErrRunInProgress)
	assert.Equal(t, []string{"room/" + catalogID}, locker.keys)

	// A failed external lock must release the in-process one.
	_, err = f.engine.Pull(context.Background())
	assert.ErrorIs(t, err, errors.ErrRunInProgress)
	assert.Len(t, locker.keys, 2)
}

func TestOutcomeSummary(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "Hall 1", "", base, nil)
	f.seed("7", "Hall  1")

	out, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "push room/rooms-catalog: 1 created, 0 updated, 0 unchanged, 1 skipped (1 potential duplicates)", out.Summary())
	assert.True(t, out.HasChanges())
	assert.True(t, out.NeedsAttention())
	assert.NotEmpty(t, out.RunID)
	assert.False(t, out.StartedAt.IsZero())
}

func TestHooksFireOnWrites(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(time.Hour)
	f.put("a", "Gym", "", base, nil)
	f.put("b", "Pool", "2", base, &synced)
	f.seed("2", "Swimming Pool")
	f.seed("3", "Library")

	var events []string
	f = withHooks(t, f, reconcile.Hooks{
		OnLocalCreated:  func(l entity.LocalRecord) { events = append(events, "local+"+l.DisplayName) },
		OnRemoteCreated: func(l entity.LocalRecord, _ entity.RemoteRecord) { events = append(events, "remote+"+l.DisplayName) },
		OnLocalUpdated:  func(l entity.LocalRecord, name string) { events = append(events, l.DisplayName+"->"+name) },
	})

	_, err := f.engine.Bidirectional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"remote+Gym", "Pool->Swimming Pool", "local+Library"}, events)
}

// withHooks rebuilds the fixture engine with hooks on the same stores.
func withHooks(t *testing.T, f *fixture, hooks reconcile.Hooks) *fixture {
	t.Helper()
	engine, err := reconcile.New(entity.KindRoom, catalogID, f.local, f.remote,
		reconcile.WithClock(f.clock.Now), reconcile.WithHooks(hooks))
	require.NoError(t, err)
	f.engine = engine
	return f
}
