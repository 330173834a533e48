package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/catsync/pkg/entity"
)

// Direction identifies the kind of sync run.
type Direction string

// Run directions.
const (
	DirectionPull          Direction = "pull"
	DirectionPush          Direction = "push"
	DirectionBidirectional Direction = "bidirectional"
)

// PendingConflict is a linked pair whose names diverged while neither side
// can be shown to be stale. It waits for a human decision.
type PendingConflict struct {
	Local        entity.LocalRecord  `json:"local" yaml:"local"`
	Remote       entity.RemoteRecord `json:"remote" yaml:"remote"`
	LastSyncedAt *time.Time          `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
}

// PotentialDuplicate is a pair of similar but not identical names that
// blocked creation on both sides.
type PotentialDuplicate struct {
	Local  entity.LocalRecord  `json:"local" yaml:"local"`
	Remote entity.RemoteRecord `json:"remote" yaml:"remote"`
	Score  float64             `json:"score" yaml:"score"`
}

// SyncOutcome reports what a sync run did.
type SyncOutcome struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Kind      entity.Kind   `json:"kind" yaml:"kind"`
	CatalogID string        `json:"catalog" yaml:"catalog"`
	Direction Direction     `json:"direction" yaml:"direction"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	Created   int `json:"created" yaml:"created"`
	Updated   int `json:"updated" yaml:"updated"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`

	Errors     []string             `json:"errors,omitempty" yaml:"errors,omitempty"`
	Conflicts  []PendingConflict    `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Duplicates []PotentialDuplicate `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`

	// Push and Pull hold the individual passes of a bidirectional run.
	Push *SyncOutcome `json:"push,omitempty" yaml:"push,omitempty"`
	Pull *SyncOutcome `json:"pull,omitempty" yaml:"pull,omitempty"`
}

// HasChanges returns true if the run wrote any record.
func (o *SyncOutcome) HasChanges() bool {
	return o.Created > 0 || o.Updated > 0
}

// HasErrors returns true if any record failed.
func (o *SyncOutcome) HasErrors() bool {
	return len(o.Errors) > 0
}

// NeedsAttention returns true if the run left conflicts or duplicates behind.
func (o *SyncOutcome) NeedsAttention() bool {
	return len(o.Conflicts) > 0 || len(o.Duplicates) > 0
}

// Summary returns a human-readable summary of the run.
func (o *SyncOutcome) Summary() string {
	s := fmt.Sprintf("%s %s/%s: %d created, %d updated, %d unchanged, %d skipped",
		o.Direction, o.Kind, o.CatalogID, o.Created, o.Updated, o.Unchanged, o.Skipped)

	var extra []string
	if n := len(o.Conflicts); n > 0 {
		extra = append(extra, fmt.Sprintf("%d conflicts", n))
	}
	if n := len(o.Duplicates); n > 0 {
		extra = append(extra, fmt.Sprintf("%d potential duplicates", n))
	}
	if n := len(o.Errors); n > 0 {
		extra = append(extra, fmt.Sprintf("%d errors", n))
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}

func (o *SyncOutcome) recordError(label string, err error) {
	o.Errors = append(o.Errors, fmt.Sprintf("%s: %v", label, err))
}

// addConflict records c unless the record already has one, and reports
// whether it was added.
func (o *SyncOutcome) addConflict(c PendingConflict) bool {
	for _, existing := range o.Conflicts {
		if existing.Local.ID == c.Local.ID {
			return false
		}
	}
	o.Conflicts = append(o.Conflicts, c)
	return true
}

func (o *SyncOutcome) addDuplicate(d PotentialDuplicate) {
	for _, existing := range o.Duplicates {
		if existing.Local.ID == d.Local.ID && existing.Remote.ExternalID == d.Remote.ExternalID {
			return
		}
	}
	o.Duplicates = append(o.Duplicates, d)
}

// combine folds the two passes of a bidirectional run into one outcome.
// Creates and updates add up; the steady-state counts come from the final
// pull pass, which sees everything the push pass wrote.
func combine(push, pull *SyncOutcome) *SyncOutcome {
	out := &SyncOutcome{
		RunID:     push.RunID,
		Kind:      push.Kind,
		CatalogID: push.CatalogID,
		Direction: DirectionBidirectional,
		StartedAt: push.StartedAt,
		Created:   push.Created,
		Updated:   push.Updated,
		Errors:    append([]string(nil), push.Errors...),
		Push:      push,
	}
	for _, c := range push.Conflicts {
		out.addConflict(c)
	}
	for _, d := range push.Duplicates {
		out.addDuplicate(d)
	}
	if pull == nil {
		return out
	}

	out.Pull = pull
	out.Created += pull.Created
	out.Updated += pull.Updated
	out.Unchanged = pull.Unchanged
	out.Skipped = pull.Skipped
	out.Errors = append(out.Errors, pull.Errors...)
	for _, c := range pull.Conflicts {
		out.addConflict(c)
	}
	for _, d := range pull.Duplicates {
		out.addDuplicate(d)
	}
	return out
}

// LocalUpdate is a local rename a run would apply.
type LocalUpdate struct {
	Local      entity.LocalRecord `json:"local" yaml:"local"`
	RemoteName string             `json:"remote_name" yaml:"remote_name"`
}

// RemoteUpdate is a remote rename a run would apply.
type RemoteUpdate struct {
	Local  entity.LocalRecord  `json:"local" yaml:"local"`
	Remote entity.RemoteRecord `json:"remote" yaml:"remote"`
}

// Preview lists what a bidirectional run would do, without doing it.
type Preview struct {
	RunID     string      `json:"run_id" yaml:"run_id"`
	Kind      entity.Kind `json:"kind" yaml:"kind"`
	CatalogID string      `json:"catalog" yaml:"catalog"`

	ToCreateRemote []entity.LocalRecord  `json:"to_create_remote" yaml:"to_create_remote"`
	ToCreateLocal  []entity.RemoteRecord `json:"to_create_local" yaml:"to_create_local"`
	ToUpdateLocal  []LocalUpdate         `json:"to_update_local" yaml:"to_update_local"`
	ToUpdateRemote []RemoteUpdate        `json:"to_update_remote" yaml:"to_update_remote"`
	Conflicts      []PendingConflict     `json:"conflicts" yaml:"conflicts"`
	Duplicates     []PotentialDuplicate  `json:"duplicates" yaml:"duplicates"`
}

// Empty returns true if a run would neither write nor report anything.
func (p *Preview) Empty() bool {
	return len(p.ToCreateRemote) == 0 && len(p.ToCreateLocal) == 0 && len(p.ToUpdateLocal) == 0 &&
		len(p.ToUpdateRemote) == 0 && len(p.Conflicts) == 0 && len(p.Duplicates) == 0
}

// Summary returns a human-readable summary of the preview.
func (p *Preview) Summary() string {
	if p.Empty() {
		return fmt.Sprintf("%s/%s: in sync", p.Kind, p.CatalogID)
	}
	return fmt.Sprintf("%s/%s: %d to create remotely, %d to create locally, %d to update locally, %d to update remotely, %d conflicts, %d potential duplicates",
		p.Kind, p.CatalogID, len(p.ToCreateRemote), len(p.ToCreateLocal), len(p.ToUpdateLocal), len(p.ToUpdateRemote), len(p.Conflicts), len(p.Duplicates))
}

// Resolution is the human decision for a conflict or duplicate.
type Resolution string

// Resolutions. An empty resolution behaves like Skip.
const (
	UseLocal  Resolution = "use_local"
	UseRemote Resolution = "use_remote"
	Skip      Resolution = "skip"
)

// Valid reports whether r is a known resolution or unset.
func (r Resolution) Valid() bool {
	switch r {
	case "", UseLocal, UseRemote, Skip:
		return true
	}
	return false
}

// Decision reasons reported by DetectConflicts.
const (
	ReasonConflict           = "conflict"
	ReasonPotentialDuplicate = "potential_duplicate"
)

// ConflictDecision targets one local record. TargetID, Resolution and
// ManualOverrideID drive Resolve; the other fields describe the situation
// and are ignored when resolving.
type ConflictDecision struct {
	TargetID         string     `json:"target_id" yaml:"target_id"`
	Resolution       Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	ManualOverrideID string     `json:"manual_override_id,omitempty" yaml:"manual_override_id,omitempty"`

	Reason       string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	LocalName    string     `json:"local_name,omitempty" yaml:"local_name,omitempty"`
	RemoteID     string     `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	RemoteName   string     `json:"remote_name,omitempty" yaml:"remote_name,omitempty"`
	Score        float64    `json:"score,omitempty" yaml:"score,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
}

// ResolveResult reports what a resolution run did.
type ResolveResult struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Kind      entity.Kind   `json:"kind" yaml:"kind"`
	CatalogID string        `json:"catalog" yaml:"catalog"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	Updated int      `json:"updated" yaml:"updated"`
	Created int      `json:"created" yaml:"created"`
	Skipped int      `json:"skipped" yaml:"skipped"`
	Errors  []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Summary returns a human-readable summary of the resolution run.
func (r *ResolveResult) Summary() string {
	s := fmt.Sprintf("resolve %s/%s: %d updated, %d created, %d skipped", r.Kind, r.CatalogID, r.Updated, r.Created, r.Skipped)
	if n := len(r.Errors); n > 0 {
		s += fmt.Sprintf(" (%d errors)", n)
	}
	return s
}

func (r *ResolveResult) recordError(label string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", label, err))
}
