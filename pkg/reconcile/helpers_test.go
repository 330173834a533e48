package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	remotemem "github.com/agentstation/catsync/internal/remote/memory"
	storemem "github.com/agentstation/catsync/internal/store/memory"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/reconcile"
)

const catalogID = "rooms-catalog"

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances one second on every reading so timestamps are unique
// and ordered across the store and the engine.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	clock  *fakeClock
	local  *storemem.Store
	remote *remotemem.Catalog
	engine *reconcile.Engine
}

func newFixture(t *testing.T, opts ...reconcile.Option) *fixture {
	t.Helper()
	clock := newClock(base.Add(2 * time.Hour))
	f := &fixture{
		clock:  clock,
		local:  storemem.New(storemem.WithClock(clock.Now)),
		remote: remotemem.New(),
	}
	opts = append([]reconcile.Option{reconcile.WithClock(clock.Now)}, opts...)
	engine, err := reconcile.New(entity.KindRoom, catalogID, f.local, f.remote, opts...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) put(id, name, ref string, updatedAt time.Time, lastSynced *time.Time) {
	f.local.Put(entity.LocalRecord{
		ID:           id,
		Kind:         entity.KindRoom,
		DisplayName:  name,
		ExternalRef:  ref,
		UpdatedAt:    updatedAt,
		LastSyncedAt: lastSynced,
	})
}

func (f *fixture) seed(id string, values ...string) {
	f.remote.Seed(catalogID, entity.RemoteRecord{ExternalID: id, Values: values})
}

func (f *fixture) get(t *testing.T, id string) entity.LocalRecord {
	t.Helper()
	rec, ok := f.local.Get(entity.KindRoom, id)
	require.True(t, ok, "record %s", id)
	return rec
}

func (f *fixture) locals(t *testing.T) []entity.LocalRecord {
	t.Helper()
	list, err := f.local.ListAll(context.Background(), entity.KindRoom)
	require.NoError(t, err)
	return list
}

func ptr[T any](v T) *T {
	return &v
}

type counts struct {
	Created, Updated, Skipped, Unchanged int
}

func countsOf(o *reconcile.SyncOutcome) counts {
	return counts{Created: o.Created, Updated: o.Updated, Skipped: o.Skipped, Unchanged: o.Unchanged}
}

// journal records the order of creates across both sides.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type journaledStore struct {
	entity.LocalStore
	j *journal
}

func (s journaledStore) Create(ctx context.Context, kind entity.Kind, name string) (entity.LocalRecord, error) {
	s.j.add("local:" + name)
	return s.LocalStore.Create(ctx, kind, name)
}

type journaledCatalog struct {
	entity.RemoteCatalog
	j *journal
}

func (c journaledCatalog) CreateItem(ctx context.Context, catalogID string, values []string) (string, error) {
	c.j.add("remote:" + values[0])
	return c.RemoteCatalog.CreateItem(ctx, catalogID, values)
}
