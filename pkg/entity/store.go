package entity

import (
	"context"
	"time"
)

// LocalStore is the local persistence layer for syncable records.
type LocalStore interface {
	// ListAll returns every record of the kind.
	ListAll(ctx context.Context, kind Kind) ([]LocalRecord, error)

	// Create inserts a record with the given name and returns it. The new
	// record is unlinked and has no watermark.
	Create(ctx context.Context, kind Kind, displayName string) (LocalRecord, error)

	// UpdateName renames a record and bumps its UpdatedAt.
	UpdateName(ctx context.Context, kind Kind, id, displayName string) error

	// UpdateSyncMeta writes the external reference and watermark without
	// touching UpdatedAt. A nil argument leaves that field unchanged.
	UpdateSyncMeta(ctx context.Context, kind Kind, id string, externalRef *string, lastSyncedAt *time.Time) error
}

// RemoteCatalog is the transport to the external catalog service.
type RemoteCatalog interface {
	// FetchSnapshot returns every row of the catalog, deleted rows included.
	FetchSnapshot(ctx context.Context, catalogID string) ([]RemoteRecord, error)

	// CreateItem appends a row and returns its external ID.
	CreateItem(ctx context.Context, catalogID string, values []string) (string, error)

	// UpdateItem replaces the values of an existing row.
	UpdateItem(ctx context.Context, catalogID, externalID string, values []string) error
}
