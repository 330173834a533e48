package reconcile

import (
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/similarity"
)

// Outcome is the classifier verdict for a linked pair.
type Outcome string

// Classifier outcomes.
const (
	Agreement  Outcome = "agreement"
	AutoUpdate Outcome = "auto_update"
	Conflict   Outcome = "conflict"
)

// UpdateDirection is the side an auto-update overwrites from.
type UpdateDirection string

// PullFromRemote overwrites the local name with the remote one.
const PullFromRemote UpdateDirection = "pull_from_remote"

// Classification is the classifier result.
type Classification struct {
	Outcome   Outcome
	Direction UpdateDirection
}

// Classify compares a linked pair against the local watermark.
//
// Equal names agree. Different names are auto-updated from the remote only
// when the local record has not been edited since it last agreed; without a
// watermark there is no evidence either way and the pair is a conflict.
func Classify(local entity.LocalRecord, remote entity.RemoteRecord) Classification {
	if similarity.Equal(local.DisplayName, remote.Name()) {
		return Classification{Outcome: Agreement}
	}
	if local.LastSyncedAt != nil && !local.UpdatedAt.After(*local.LastSyncedAt) {
		return Classification{Outcome: AutoUpdate, Direction: PullFromRemote}
	}
	return Classification{Outcome: Conflict}
}
