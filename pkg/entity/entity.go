// Package entity defines the records exchanged between a local store and a
// remote catalog, and the interfaces those two collaborators present to the
// reconciliation engine.
package entity

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/errors"
)

// Kind identifies an entity kind such as rooms or labels.
type Kind string

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

// LocalRecord is an entity owned by the local operational store.
type LocalRecord struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	DisplayName string `json:"display_name" yaml:"display_name"`

	// ExternalRef links the record to a remote row. Empty means unlinked.
	ExternalRef string `json:"external_ref,omitempty" yaml:"external_ref,omitempty"`

	// UpdatedAt is bumped by the store on every user-visible edit.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// LastSyncedAt is the watermark: the last confirmed point of agreement
	// with the remote counterpart. Nil means the record never agreed.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
}

// Linked reports whether the record carries an external reference.
func (r LocalRecord) Linked() bool {
	return r.ExternalRef != ""
}

// Label returns the name used to identify the record in error messages.
func (r LocalRecord) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ID
}

// RemoteRecord is a row of the remote catalog snapshot. Values[0] is the
// display name; the remaining values are opaque and preserved on update.
type RemoteRecord struct {
	ExternalID string   `json:"id" yaml:"id"`
	Values     []string `json:"values" yaml:"values"`
	Deleted    bool     `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// Name returns the display name column, or "" for a row with no values.
func (r RemoteRecord) Name() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0]
}

// WithName returns a copy of the row's values with the display name replaced.
func (r RemoteRecord) WithName(name string) []string {
	if len(r.Values) == 0 {
		return []string{name}
	}
	values := slices.Clone(r.Values)
	values[0] = name
	return values
}

// Clone returns a deep copy of the row.
func (r RemoteRecord) Clone() RemoteRecord {
	r.Values = slices.Clone(r.Values)
	return r
}

// Label returns the name used to identify the row in error messages.
func (r RemoteRecord) Label() string {
	if name := r.Name(); name != "" {
		return name
	}
	return r.ExternalID
}

// ValidateDisplayName checks a name a store is asked to write. Length is
// counted in runes.
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewValidationError("display_name", name, "display name is required")
	}
	if utf8.RuneCountInString(name) > constants.MaxDisplayNameLength {
		return errors.NewValidationError("display_name", name, "display name is too long")
	}
	return nil
}
