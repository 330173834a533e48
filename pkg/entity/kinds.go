package entity

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agentstation/catsync/pkg/errors"
)

// Built-in kinds.
const (
	KindRoom  Kind = "room"
	KindLabel Kind = "label"
)

// KindSpec describes how records of a kind are persisted locally.
type KindSpec struct {
	Kind        Kind   `json:"kind" yaml:"kind"`
	Table       string `json:"table" yaml:"table"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Kind]KindSpec{
		KindRoom:  {Kind: KindRoom, Table: "rooms", Description: "Bookable rooms and spaces"},
		KindLabel: {Kind: KindLabel, Table: "labels", Description: "Event category labels"},
	}
)

// Register adds a kind to the registry.
func Register(spec KindSpec) error {
	if spec.Kind == "" {
		return errors.NewValidationError("kind", spec.Kind, "kind is required")
	}
	if spec.Table == "" {
		spec.Table = string(spec.Kind) + "s"
	}
	if !validIdentifier(spec.Table) {
		return errors.NewValidationError("table", spec.Table, "table must contain only letters, digits and underscores")
	}

	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, exists := kinds[spec.Kind]; exists {
		return fmt.Errorf("kind %s: %w", spec.Kind, errors.ErrAlreadyExists)
	}
	kinds[spec.Kind] = spec
	return nil
}

// Lookup returns the spec registered for a kind.
func Lookup(kind Kind) (KindSpec, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	spec, ok := kinds[kind]
	return spec, ok
}

// Kinds returns every registered spec ordered by kind.
func Kinds() []KindSpec {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	specs := make([]KindSpec, 0, len(kinds))
	for _, spec := range kinds {
		specs = append(specs, spec)
	}
	slices.SortFunc(specs, func(a, b KindSpec) int {
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return specs
}

// ParseKind resolves a user-supplied kind name.
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(kind); !ok {
		return "", errors.NewValidationError("kind", s, fmt.Sprintf("unknown kind %q", s))
	}
	return kind, nil
}

func validIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return s != ""
}
