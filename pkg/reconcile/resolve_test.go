package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/reconcile"
)

func conflictFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.put("lab", "Lab", "3", base, nil)
	f.seed("3", "Laboratory", "wing B")
	return f
}

func TestResolve_SkipLeavesWatermark(t *testing.T) {
	for name, r := range map[string]reconcile.Resolution{"skip": reconcile.Skip, "unset": ""} {
		t.Run(name, func(t *testing.T) {
			f := conflictFixture(t)

			res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "lab", Resolution: r}})
			require.NoError(t, err)

			assert.Equal(t, 1, res.Skipped)
			assert.Equal(t, 0, res.Updated)
			assert.Nil(t, f.get(t, "lab").LastSyncedAt)
			assert.Equal(t, "Lab", f.get(t, "lab").DisplayName)
			assert.Equal(t, 0, f.remote.Writes())
		})
	}
}

func TestResolve_SkipKeepsExistingWatermark(t *testing.T) {
	f := newFixture(t)
	synced := base.Add(-time.Hour)
	f.put("lab", "Lab", "3", base, &synced)
	f.seed("3", "Laboratory")

	_, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "lab", Resolution: reconcile.Skip}})
	require.NoError(t, err)
	assert.Equal(t, synced, *f.get(t, "lab").LastSyncedAt)
}

func TestResolve_UseLocal(t *testing.T) {
	f := conflictFixture(t)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "lab", Resolution: reconcile.UseLocal}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)

	assert.Equal(t, []string{"Lab", "wing B"}, f.remote.Rows(catalogID)[0].Values, "opaque values are preserved")
	rec := f.get(t, "lab")
	require.NotNil(t, rec.LastSyncedAt)
	assert.Equal(t, "3", rec.ExternalRef)

	out, err := f.engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Conflicts)
	assert.Equal(t, 1, out.Unchanged)
}

func TestResolve_UseRemote(t *testing.T) {
	f := conflictFixture(t)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "lab", Resolution: reconcile.UseRemote}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rec := f.get(t, "lab")
	assert.Equal(t, "Laboratory", rec.DisplayName)
	require.NotNil(t, rec.LastSyncedAt)
	assert.False(t, rec.UpdatedAt.After(*rec.LastSyncedAt))
	assert.Equal(t, 0, f.remote.Writes())
}

func TestResolve_UseLocalWithoutCounterpartCreates(t *testing.T) {
	f := newFixture(t)
	f.put("kiln", "Kiln", "", base, nil)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "kiln", Resolution: reconcile.UseLocal}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	rows := f.remote.Rows(catalogID)
	require.Len(t, rows, 1)
	assert.Equal(t, rows[0].ExternalID, f.get(t, "kiln").ExternalRef)
}

func TestResolve_UseRemoteRequiresCounterpart(t *testing.T) {
	f := newFixture(t)
	f.put("kiln", "Kiln", "", base, nil)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{{TargetID: "kiln", Resolution: reconcile.UseRemote}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "manual_override_id")
}

func TestResolve_ManualOverrideLinksDuplicate(t *testing.T) {
	f := newFixture(t)
	f.put("hall", "Hall 1", "", base, nil)
	f.seed("4", "Hall  1")

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{
		{TargetID: "hall", Resolution: reconcile.UseRemote, ManualOverrideID: "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "4", f.get(t, "hall").ExternalRef)
	assert.Equal(t, "Hall  1", f.get(t, "hall").DisplayName)

	out, err := f.engine.Bidirectional(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Duplicates)
	assert.Equal(t, 0, out.Created)
}

func TestResolve_ManualOverrideUniqueness(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "1", base, ptr(base))
	f.put("gym2", "Gymnasium", "", base, nil)
	f.seed("1", "Gym")

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{
		{TargetID: "gym2", Resolution: reconcile.UseRemote, ManualOverrideID: "1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "already held by")
	assert.Contains(t, res.Errors[0], "gym")
	assert.Contains(t, res.Errors[0], `"Gym"`)

	assert.Empty(t, f.get(t, "gym2").ExternalRef)
	assert.Equal(t, "Gymnasium", f.get(t, "gym2").DisplayName)
	assert.Equal(t, "1", f.get(t, "gym").ExternalRef)
}

func TestResolve_ManualOverrideMustExist(t *testing.T) {
	f := newFixture(t)
	f.put("gym", "Gym", "", base, nil)
	f.remote.Seed(catalogID, entity.RemoteRecord{ExternalID: "8", Values: []string{"Gym"}, Deleted: true})

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{
		{TargetID: "gym", Resolution: reconcile.UseRemote, ManualOverrideID: "99"},
		{TargetID: "gym", Resolution: reconcile.UseLocal, ManualOverrideID: "8"},
	})
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "not found")
	assert.Contains(t, res.Errors[1], "deleted")
	assert.Equal(t, 0, f.remote.Writes())
}

func TestResolve_TolerantOfBadDecisions(t *testing.T) {
	f := conflictFixture(t)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{
		{TargetID: "missing", Resolution: reconcile.UseLocal},
		{TargetID: "lab", Resolution: "maybe"},
		{TargetID: "lab", Resolution: reconcile.UseRemote},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"missing: room with ID missing not found"}, res.Errors[:1])
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "Laboratory", f.get(t, "lab").DisplayName)
}

func TestResolve_Empty(t *testing.T) {
	f := conflictFixture(t)

	res, err := f.engine.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Updated+res.Created+res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "resolve room/rooms-catalog: 0 updated, 0 created, 0 skipped", res.Summary())
}

func TestResolve_LaterDecisionsSeeEarlierLinks(t *testing.T) {
	f := newFixture(t)
	f.put("a", "Kiln", "", base, nil)
	f.put("b", "kiln", "", base, nil)

	res, err := f.engine.Resolve(context.Background(), []reconcile.ConflictDecision{
		{TargetID: "a", Resolution: reconcile.UseLocal},
		{TargetID: "b", Resolution: reconcile.UseLocal},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "already held by")
	assert.Len(t, f.remote.Rows(catalogID), 1)
}
