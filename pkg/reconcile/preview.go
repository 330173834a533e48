package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentstation/catsync/pkg/logging"
)

// Preview reports what a bidirectional run would do against the current
// state of both sides. It takes no run lock and writes nothing.
func (e *Engine) Preview(ctx context.Context) (*Preview, error) {
	runID := uuid.NewString()
	ctx = e.withLogger(ctx, "preview", runID)

	locals, ix, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	preview := &Preview{RunID: runID, Kind: e.kind, CatalogID: e.catalogID}
	w := newDryWriter(e.kind, locals, preview)
	out, err := e.bidirectional(ctx, runID, e.now(), locals, ix, w, Hooks{})
	if err != nil {
		return nil, err
	}

	preview.Conflicts = out.Conflicts
	preview.Duplicates = out.Duplicates

	logging.FromContext(ctx).Debug().Msg(preview.Summary())
	return preview, nil
}

// DetectConflicts lists the records that need a human decision: conflicts
// and potential duplicates. Resolutions are left unset. Duplicates involving
// a record that does not exist yet are omitted.
func (e *Engine) DetectConflicts(ctx context.Context) ([]ConflictDecision, error) {
	preview, err := e.Preview(ctx)
	if err != nil {
		return nil, err
	}

	decisions := make([]ConflictDecision, 0, len(preview.Conflicts)+len(preview.Duplicates))
	for _, c := range preview.Conflicts {
		decisions = append(decisions, ConflictDecision{
			TargetID:     c.Local.ID,
			Reason:       ReasonConflict,
			LocalName:    c.Local.DisplayName,
			RemoteID:     c.Remote.ExternalID,
			RemoteName:   c.Remote.Name(),
			LastSyncedAt: c.LastSyncedAt,
		})
	}
	for _, d := range preview.Duplicates {
		if strings.HasPrefix(d.Local.ID, pendingPrefix) || strings.HasPrefix(d.Remote.ExternalID, pendingPrefix) {
			continue
		}
		decisions = append(decisions, ConflictDecision{
			TargetID:     d.Local.ID,
			Reason:       ReasonPotentialDuplicate,
			LocalName:    d.Local.DisplayName,
			RemoteID:     d.Remote.ExternalID,
			RemoteName:   d.Remote.Name(),
			Score:        d.Score,
			LastSyncedAt: d.Local.LastSyncedAt,
		})
	}
	return decisions, nil
}
