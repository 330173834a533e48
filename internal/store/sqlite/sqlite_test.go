package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	remotemem "github.com/agentstation/catsync/internal/remote/memory"
	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/reconcile"
)

type tick struct {
	t time.Time
}

func (c *tick) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTemp(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "catsync.db")
	s, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.True(t, errors.IsValidationError(err))
}

func TestStore_CreateAndList(t *testing.T) {
	ctx := context.Background()
	clock := &tick{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s, _ := openTemp(t, WithClock(clock.now))

	gym, err := s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)
	_, err = s.Create(ctx, entity.KindRoom, "Library")
	require.NoError(t, err)
	_, err = s.Create(ctx, entity.KindLabel, "Sports")
	require.NoError(t, err)

	assert.NotEmpty(t, gym.ID)
	assert.False(t, gym.Linked())

	rooms, err := s.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, gym.ID, rooms[0].ID)
	assert.Equal(t, "Gym", rooms[0].DisplayName)
	assert.Equal(t, entity.KindRoom, rooms[0].Kind)
	assert.True(t, gym.UpdatedAt.Equal(rooms[0].UpdatedAt))
	assert.Nil(t, rooms[0].LastSyncedAt)
	assert.Equal(t, "Library", rooms[1].DisplayName)

	labels, err := s.ListAll(ctx, entity.KindLabel)
	require.NoError(t, err)
	require.Len(t, labels, 1)

	_, err = s.Create(ctx, entity.KindRoom, " ")
	assert.True(t, errors.IsValidationError(err))

	_, err = s.ListAll(ctx, "venue")
	assert.True(t, errors.IsValidationError(err))
}

func TestStore_UpdateName(t *testing.T) {
	ctx := context.Background()
	clock := &tick{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s, _ := openTemp(t, WithClock(clock.now))

	rec, err := s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)
	require.NoError(t, s.UpdateName(ctx, entity.KindRoom, rec.ID, "Gymnasium"))

	rooms, err := s.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Gymnasium", rooms[0].DisplayName)
	assert.True(t, rooms[0].UpdatedAt.After(rec.UpdatedAt))

	err = s.UpdateName(ctx, entity.KindRoom, "missing", "x")
	assert.True(t, errors.IsNotFound(err))

	err = s.UpdateName(ctx, entity.KindRoom, rec.ID, "")
	assert.True(t, errors.IsValidationError(err))
}

func TestStore_UpdateSyncMeta(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	a, err := s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)
	b, err := s.Create(ctx, entity.KindRoom, "Pool")
	require.NoError(t, err)

	ref := "42"
	synced := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, a.ID, &ref, &synced))

	rooms, err := s.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	assert.Equal(t, "42", rooms[0].ExternalRef)
	require.NotNil(t, rooms[0].LastSyncedAt)
	assert.True(t, synced.Equal(*rooms[0].LastSyncedAt))

	t.Run("second holder is rejected", func(t *testing.T) {
		err := s.UpdateSyncMeta(ctx, entity.KindRoom, b.ID, &ref, &synced)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))

		var ue *errors.UniquenessError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, a.ID, ue.HolderID)
		assert.Equal(t, "Gym", ue.HolderName)
	})

	t.Run("same ref on another kind is allowed", func(t *testing.T) {
		label, err := s.Create(ctx, entity.KindLabel, "Sports")
		require.NoError(t, err)
		require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindLabel, label.ID, &ref, nil))
	})

	t.Run("nil arguments leave fields unchanged", func(t *testing.T) {
		require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, a.ID, nil, nil))
		later := synced.Add(time.Hour)
		require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, a.ID, nil, &later))

		rooms, err := s.ListAll(ctx, entity.KindRoom)
		require.NoError(t, err)
		assert.Equal(t, "42", rooms[0].ExternalRef)
		assert.True(t, later.Equal(*rooms[0].LastSyncedAt))
	})

	t.Run("empty ref unlinks", func(t *testing.T) {
		empty := ""
		require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, a.ID, &empty, nil))
		require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, b.ID, &ref, nil))

		rooms, err := s.ListAll(ctx, entity.KindRoom)
		require.NoError(t, err)
		assert.Empty(t, rooms[0].ExternalRef)
		assert.Equal(t, "42", rooms[1].ExternalRef)
	})

	t.Run("missing record", func(t *testing.T) {
		err := s.UpdateSyncMeta(ctx, entity.KindRoom, "missing", nil, &synced)
		assert.True(t, errors.IsNotFound(err))
		err = s.UpdateSyncMeta(ctx, entity.KindRoom, "missing", nil, nil)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	rec, err := s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)
	ref := "7"
	require.NoError(t, s.UpdateSyncMeta(ctx, entity.KindRoom, rec.ID, &ref, nil))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rooms, err := reopened.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, rec.ID, rooms[0].ID)
	assert.Equal(t, "7", rooms[0].ExternalRef)
	assert.Equal(t, path, reopened.Path())
}

func TestStore_QuotesNames(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	name := `O'Brien "Hall"; drop table rooms`
	_, err := s.Create(ctx, entity.KindRoom, name)
	require.NoError(t, err)

	rooms, err := s.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, name, rooms[0].DisplayName)
}

func TestStore_WithIDFunc(t *testing.T) {
	ctx := context.Background()
	n := 0
	s, _ := openTemp(t, WithIDFunc(func() string {
		n++
		return fmt.Sprintf("room-%d", n)
	}))

	rec, err := s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)
	assert.Equal(t, "room-1", rec.ID)
}

func TestStore_DrivesEngine(t *testing.T) {
	ctx := context.Background()
	clock := &tick{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s, _ := openTemp(t, WithClock(clock.now))

	_, err := s.Create(ctx, entity.KindRoom, "Art Room")
	require.NoError(t, err)
	_, err = s.Create(ctx, entity.KindRoom, "Gym")
	require.NoError(t, err)

	remote := remotemem.New()
	remote.Seed("rooms", entity.RemoteRecord{ExternalID: "1", Values: []string{"Art Room"}})

	engine, err := reconcile.New(entity.KindRoom, "rooms", s, remote, reconcile.WithClock(clock.now))
	require.NoError(t, err)

	out, err := engine.Bidirectional(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Created)
	assert.Empty(t, out.Errors)

	rooms, err := s.ListAll(ctx, entity.KindRoom)
	require.NoError(t, err)
	for _, r := range rooms {
		assert.True(t, r.Linked(), r.DisplayName)
		assert.NotNil(t, r.LastSyncedAt, r.DisplayName)
	}
	assert.Equal(t, "1", rooms[0].ExternalRef)

	again, err := engine.Bidirectional(ctx)
	require.NoError(t, err)
	assert.False(t, again.HasChanges())
}

func TestStore_DisplayNameLengthInRunes(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	longest := strings.Repeat("é", constants.MaxDisplayNameLength)
	rec, err := s.Create(ctx, entity.KindRoom, longest)
	require.NoError(t, err, "two-byte runes count once")

	_, err = s.Create(ctx, entity.KindRoom, longest+"é")
	assert.True(t, errors.IsValidationError(err))

	assert.True(t, errors.IsValidationError(s.UpdateName(ctx, entity.KindRoom, rec.ID, longest+"x")))
	require.NoError(t, s.UpdateName(ctx, entity.KindRoom, rec.ID, strings.Repeat("ü", constants.MaxDisplayNameLength)))
}
