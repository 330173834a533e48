// Package memory provides an in-process LocalStore.
//
// It backs tests and the memory local driver, and enforces the same rules as
// the SQLite store: registered kinds only, non-empty names, and at most one
// record per kind holding a given external reference.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

// Op names a store operation for fault injection.
type Op string

// Store operations.
const (
	OpList           Op = "list"
	OpCreate         Op = "create"
	OpUpdateName     Op = "update_name"
	OpUpdateSyncMeta Op = "update_sync_meta"
)

// FaultFunc returns a non-nil error to make an operation fail. For list the
// key is the kind, for create the display name, otherwise the record ID.
type FaultFunc func(op Op, key string) error

// Store is an in-memory entity.LocalStore.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	newID   func() string
	fault   FaultFunc
	records map[entity.Kind]map[string]*entity.LocalRecord
	order   map[entity.Kind][]string
}

var _ entity.LocalStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDFunc sets the generator used for new record IDs.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		newID:   uuid.NewString,
		records: make(map[entity.Kind]map[string]*entity.LocalRecord),
		order:   make(map[entity.Kind][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault installs a fault injector. Pass nil to clear it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Put inserts or replaces a record verbatim, timestamps included.
func (s *Store) Put(rec entity.LocalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	s.put(rec)
}

// Get returns a copy of a single record.
func (s *Store) Get(kind entity.Kind, id string) (entity.LocalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[kind][id]
	if !ok {
		return entity.LocalRecord{}, false
	}
	return clone(*rec), true
}

// ListAll implements entity.LocalStore.
func (s *Store) ListAll(_ context.Context, kind entity.Kind) ([]entity.LocalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(kind); err != nil {
		return nil, err
	}
	if err := s.inject(OpList, string(kind)); err != nil {
		return nil, err
	}

	out := make([]entity.LocalRecord, 0, len(s.order[kind]))
	for _, id := range s.order[kind] {
		out = append(out, clone(*s.records[kind][id]))
	}
	return out, nil
}

// Create implements entity.LocalStore.
func (s *Store) Create(_ context.Context, kind entity.Kind, displayName string) (entity.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(kind); err != nil {
		return entity.LocalRecord{}, err
	}
	if err := entity.ValidateDisplayName(displayName); err != nil {
		return entity.LocalRecord{}, err
	}
	if err := s.inject(OpCreate, displayName); err != nil {
		return entity.LocalRecord{}, err
	}

	rec := entity.LocalRecord{
		ID:          s.newID(),
		Kind:        kind,
		DisplayName: displayName,
		UpdatedAt:   s.now(),
	}
	s.put(rec)
	return rec, nil
}

// UpdateName implements entity.LocalStore.
func (s *Store) UpdateName(_ context.Context, kind entity.Kind, id, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(kind, id)
	if err != nil {
		return err
	}
	if err := entity.ValidateDisplayName(displayName); err != nil {
		return err
	}
	if err := s.inject(OpUpdateName, id); err != nil {
		return err
	}

	rec.DisplayName = displayName
	rec.UpdatedAt = s.now()
	return nil
}

// UpdateSyncMeta implements entity.LocalStore.
func (s *Store) UpdateSyncMeta(_ context.Context, kind entity.Kind, id string, externalRef *string, lastSyncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(kind, id)
	if err != nil {
		return err
	}
	if err := s.inject(OpUpdateSyncMeta, id); err != nil {
		return err
	}

	if externalRef != nil && *externalRef != "" {
		for _, other := range s.records[kind] {
			if other.ID != id && other.ExternalRef == *externalRef {
				return &errors.UniquenessError{
					Kind:        string(kind),
					ExternalRef: *externalRef,
					RecordID:    id,
					HolderID:    other.ID,
					HolderName:  other.DisplayName,
				}
			}
		}
	}

	if externalRef != nil {
		rec.ExternalRef = *externalRef
	}
	if lastSyncedAt != nil {
		at := *lastSyncedAt
		rec.LastSyncedAt = &at
	}
	return nil
}

func (s *Store) check(kind entity.Kind) error {
	if _, ok := entity.Lookup(kind); !ok {
		return errors.NewValidationError("kind", kind, "unknown kind")
	}
	return nil
}

func (s *Store) lookup(kind entity.Kind, id string) (*entity.LocalRecord, error) {
	if err := s.check(kind); err != nil {
		return nil, err
	}
	rec, ok := s.records[kind][id]
	if !ok {
		return nil, errors.NewNotFoundError(string(kind), id)
	}
	return rec, nil
}

func (s *Store) inject(op Op, key string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, key)
}

func (s *Store) put(rec entity.LocalRecord) {
	byID, ok := s.records[rec.Kind]
	if !ok {
		byID = make(map[string]*entity.LocalRecord)
		s.records[rec.Kind] = byID
	}
	if _, exists := byID[rec.ID]; !exists {
		s.order[rec.Kind] = append(s.order[rec.Kind], rec.ID)
	}
	stored := clone(rec)
	byID[rec.ID] = &stored
}

func clone(rec entity.LocalRecord) entity.LocalRecord {
	if rec.LastSyncedAt != nil {
		at := *rec.LastSyncedAt
		rec.LastSyncedAt = &at
	}
	return rec
}

// IDs returns the record IDs of a kind in insertion order.
func (s *Store) IDs(kind entity.Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order[kind])
}
