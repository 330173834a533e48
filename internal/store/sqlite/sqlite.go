// Package sqlite implements the local store on a SQLite database file.
//
// Each registered entity kind gets its own table. Timestamps are stored as
// Unix nanoseconds and external references carry a unique index, so two
// records of a kind can never be linked to the same remote row.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // goqu dialect
	_ "github.com/glebarez/go-sqlite"                  // database/sql driver "sqlite"
	"github.com/google/uuid"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
)

const tableSchema = `
create table if not exists %s (
    id text primary key,
    display_name text not null,
    external_ref text,
    created_at integer not null,
    updated_at integer not null,
    last_synced_at integer
)`

const indexSchema = `create unique index if not exists %s on %s (external_ref)`

var columns = []any{"id", "display_name", "external_ref", "updated_at", "last_synced_at"}

// Store is an entity.LocalStore backed by SQLite.
type Store struct {
	raw  *sql.DB
	db   *goqu.Database
	path string

	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	tables map[entity.Kind]string
}

var _ entity.LocalStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created_at and updated_at.
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

// Open opens or creates the database at path and creates a table for every
// registered kind. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidationError("path", path, "database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
			return nil, errors.WrapIO("create", filepath.Dir(path), err)
		}
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between our own writers.
	raw.SetMaxOpenConns(1)

	s := &Store{
		raw:    raw,
		db:     goqu.New("sqlite3", raw),
		path:   path,
		now:    time.Now,
		newID:  uuid.NewString,
		tables: make(map[entity.Kind]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = raw.Close()
		return nil, errors.WrapIO("configure", path, err)
	}
	for _, spec := range entity.Kinds() {
		if _, err := s.table(ctx, spec.Kind); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}

	logging.FromContext(ctx).Debug().Str("path", path).Msg("opened local store")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.raw.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// ListAll implements entity.LocalStore.
func (s *Store) ListAll(ctx context.Context, kind entity.Kind) ([]entity.LocalRecord, error) {
	table, err := s.table(ctx, kind)
	if err != nil {
		return nil, err
	}

	query, args, err := s.db.From(table).
		Select(columns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("list", string(kind), "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.LocalRecord
	for rows.Next() {
		rec, err := scan(rows, kind)
		if err != nil {
			return nil, errors.WrapResource("list", string(kind), "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("list", string(kind), "", err)
	}
	return out, nil
}

// Create implements entity.LocalStore.
func (s *Store) Create(ctx context.Context, kind entity.Kind, displayName string) (entity.LocalRecord, error) {
	table, err := s.table(ctx, kind)
	if err != nil {
		return entity.LocalRecord{}, err
	}
	if err := entity.ValidateDisplayName(displayName); err != nil {
		return entity.LocalRecord{}, err
	}

	now := s.now()
	rec := entity.LocalRecord{
		ID:          s.newID(),
		Kind:        kind,
		DisplayName: displayName,
		UpdatedAt:   now,
	}

	query, args, err := s.db.Insert(table).Rows(goqu.Record{
		"id":           rec.ID,
		"display_name": rec.DisplayName,
		"created_at":   now.UnixNano(),
		"updated_at":   now.UnixNano(),
	}).ToSQL()
	if err != nil {
		return entity.LocalRecord{}, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return entity.LocalRecord{}, errors.WrapResource("create", string(kind), rec.ID, err)
	}
	return rec, nil
}

// UpdateName implements entity.LocalStore.
func (s *Store) UpdateName(ctx context.Context, kind entity.Kind, id, displayName string) error {
	table, err := s.table(ctx, kind)
	if err != nil {
		return err
	}
	if err := entity.ValidateDisplayName(displayName); err != nil {
		return err
	}

	query, args, err := s.db.Update(table).
		Set(goqu.Record{
			"display_name": displayName,
			"updated_at":   s.now().UnixNano(),
		}).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return err
	}
	return s.exec(ctx, kind, "update", id, query, args)
}

// UpdateSyncMeta implements entity.LocalStore.
func (s *Store) UpdateSyncMeta(ctx context.Context, kind entity.Kind, id string, externalRef *string, lastSyncedAt *time.Time) error {
	table, err := s.table(ctx, kind)
	if err != nil {
		return err
	}

	record := goqu.Record{}
	if externalRef != nil {
		if *externalRef == "" {
			record["external_ref"] = nil
		} else {
			if err := s.checkUnique(ctx, table, kind, id, *externalRef); err != nil {
				return err
			}
			record["external_ref"] = *externalRef
		}
	}
	if lastSyncedAt != nil {
		record["last_synced_at"] = lastSyncedAt.UnixNano()
	}
	if len(record) == 0 {
		// Nothing to write, but a missing record is still an error.
		record["id"] = goqu.C("id")
	}

	query, args, err := s.db.Update(table).
		Set(record).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return err
	}

	err = s.exec(ctx, kind, "update", id, query, args)
	if err != nil && externalRef != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &errors.UniquenessError{Kind: string(kind), ExternalRef: *externalRef, RecordID: id}
	}
	return err
}

// checkUnique names the record already holding ref, if any.
func (s *Store) checkUnique(ctx context.Context, table string, kind entity.Kind, id, ref string) error {
	query, args, err := s.db.From(table).
		Select("id", "display_name").
		Where(goqu.C("external_ref").Eq(ref), goqu.C("id").Neq(id)).
		Limit(1).
		ToSQL()
	if err != nil {
		return err
	}

	var holderID, holderName string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&holderID, &holderName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return errors.WrapResource("update", string(kind), id, err)
	}
	return &errors.UniquenessError{
		Kind:        string(kind),
		ExternalRef: ref,
		RecordID:    id,
		HolderID:    holderID,
		HolderName:  holderName,
	}
}

func (s *Store) exec(ctx context.Context, kind entity.Kind, op, id, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WrapResource(op, string(kind), id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapResource(op, string(kind), id, err)
	}
	if n == 0 {
		return errors.NewNotFoundError(string(kind), id)
	}
	return nil
}

// table returns the table for a kind, creating it on first use.
func (s *Store) table(ctx context.Context, kind entity.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.tables[kind]; ok {
		return name, nil
	}
	spec, ok := entity.Lookup(kind)
	if !ok {
		return "", errors.NewValidationError("kind", kind, "unknown kind")
	}

	index := fmt.Sprintf("idx_%s_external_ref", spec.Table)
	for _, stmt := range []string{
		fmt.Sprintf(tableSchema, spec.Table),
		fmt.Sprintf(indexSchema, index, spec.Table),
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return "", errors.WrapResource("create table", string(kind), spec.Table, err)
		}
	}
	s.tables[kind] = spec.Table
	return spec.Table, nil
}

func scan(rows *sql.Rows, kind entity.Kind) (entity.LocalRecord, error) {
	var (
		rec        entity.LocalRecord
		ref        sql.NullString
		updatedAt  int64
		lastSynced sql.NullInt64
	)
	if err := rows.Scan(&rec.ID, &rec.DisplayName, &ref, &updatedAt, &lastSynced); err != nil {
		return rec, err
	}
	rec.Kind = kind
	rec.ExternalRef = ref.String
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if lastSynced.Valid {
		at := time.Unix(0, lastSynced.Int64).UTC()
		rec.LastSyncedAt = &at
	}
	return rec, nil
}
