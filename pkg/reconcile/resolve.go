package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
	"github.com/agentstation/catsync/pkg/similarity"
)

// Resolve applies human decisions. Each decision is independent: failures
// are reported per record and the remaining decisions still run. Skip and
// unset resolutions write nothing and leave the watermark alone.
func (e *Engine) Resolve(ctx context.Context, decisions []ConflictDecision) (*ResolveResult, error) {
	unlock, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID := uuid.NewString()
	started := e.now()
	ctx = e.withLogger(ctx, "resolve", runID)
	logger := logging.FromContext(ctx)

	res := &ResolveResult{RunID: runID, Kind: e.kind, CatalogID: e.catalogID, StartedAt: started}
	if len(decisions) == 0 {
		return res, nil
	}

	locals, ix, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.LocalRecord, len(locals))
	for i := range locals {
		byID[locals[i].ID] = &locals[i]
	}

	for _, d := range decisions {
		if ctx.Err() != nil {
			res.Duration = e.now().Sub(started)
			return res, canceled(ctx)
		}

		if !d.Resolution.Valid() {
			res.recordError(d.TargetID, errors.NewValidationError("resolution", d.Resolution, "resolution must be use_local, use_remote or skip"))
			continue
		}
		local, ok := byID[d.TargetID]
		if !ok {
			res.recordError(d.TargetID, errors.NewNotFoundError(string(e.kind), d.TargetID))
			continue
		}
		if d.Resolution == "" || d.Resolution == Skip {
			res.Skipped++
			continue
		}

		created, err := e.apply(ctx, d, local, locals, ix)
		if err != nil {
			res.recordError(local.Label(), err)
			logger.Warn().Err(err).Str("record", local.ID).Str("resolution", string(d.Resolution)).Msg("resolution failed")
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		logger.Debug().Str("record", local.ID).Str("resolution", string(d.Resolution)).Msg("resolution applied")
	}

	res.Duration = e.now().Sub(started)
	logger.Info().
		Int("updated", res.Updated).
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Msg("resolution run finished")
	return res, nil
}

// apply executes one decision and reports whether it created a remote item.
// local points into locals so later decisions see the links it writes.
func (e *Engine) apply(ctx context.Context, d ConflictDecision, local *entity.LocalRecord, locals []entity.LocalRecord, ix *Index) (bool, error) {
	row, err := e.target(d, local, locals, ix)
	if err != nil {
		return false, err
	}

	switch d.Resolution {
	case UseLocal:
		name := local.DisplayName
		if strings.TrimSpace(name) == "" {
			return false, errors.NewValidationError("display_name", name, "local record has no name")
		}
		if row == nil {
			id, err := e.remote.CreateItem(ctx, e.catalogID, []string{name})
			if err != nil {
				return false, err
			}
			row = ix.add(entity.RemoteRecord{ExternalID: id, Values: []string{name}})
			if e.hooks.OnRemoteCreated != nil {
				e.hooks.OnRemoteCreated(*local, row.Clone())
			}
			return true, e.link(ctx, local, id)
		}
		if row.Name() != name {
			values := row.WithName(name)
			if err := e.remote.UpdateItem(ctx, e.catalogID, row.ExternalID, values); err != nil {
				return false, err
			}
			ix.setValues(row, values)
			if e.hooks.OnRemoteUpdated != nil {
				e.hooks.OnRemoteUpdated(*local, row.Clone())
			}
		}
		return false, e.link(ctx, local, row.ExternalID)

	case UseRemote:
		if row == nil {
			return false, errors.NewValidationError("manual_override_id", "", "no matching remote item; set manual_override_id")
		}
		name := row.Name()
		if strings.TrimSpace(name) == "" {
			return false, errors.NewValidationError("display_name", name, "remote item has no name")
		}
		if local.DisplayName != name {
			if err := e.local.UpdateName(ctx, e.kind, local.ID, name); err != nil {
				return false, err
			}
			if e.hooks.OnLocalUpdated != nil {
				e.hooks.OnLocalUpdated(*local, name)
			}
			local.DisplayName = name
		}
		return false, e.link(ctx, local, row.ExternalID)
	}
	return false, nil
}

// target finds the remote row a decision applies to: the manual override,
// then the current link, then an exact name match. A nil row without error
// means there is no counterpart.
func (e *Engine) target(d ConflictDecision, local *entity.LocalRecord, locals []entity.LocalRecord, ix *Index) (*entity.RemoteRecord, error) {
	if d.ManualOverrideID != "" {
		row, ok := ix.Get(d.ManualOverrideID)
		if !ok {
			return nil, errors.NewNotFoundError("catalog item", d.ManualOverrideID)
		}
		if row.Deleted {
			return nil, errors.NewValidationError("manual_override_id", d.ManualOverrideID, "remote item is deleted")
		}
		if err := e.checkUnique(local, row.ExternalID, locals); err != nil {
			return nil, err
		}
		return row, nil
	}

	if local.ExternalRef != "" {
		if row, ok := ix.ByID[local.ExternalRef]; ok {
			return row, nil
		}
	}
	if row, ok := ix.ByName[similarity.Normalize(local.DisplayName)]; ok {
		if err := e.checkUnique(local, row.ExternalID, locals); err != nil {
			return nil, err
		}
		return row, nil
	}
	return nil, nil
}

// checkUnique fails when another local record of the kind already holds ref.
func (e *Engine) checkUnique(local *entity.LocalRecord, ref string, locals []entity.LocalRecord) error {
	for _, other := range locals {
		if other.ID != local.ID && other.ExternalRef == ref {
			return &errors.UniquenessError{
				Kind:        string(e.kind),
				ExternalRef: ref,
				RecordID:    local.ID,
				HolderID:    other.ID,
				HolderName:  other.DisplayName,
			}
		}
	}
	return nil
}

// link stores the reference and a watermark taken after the writes it
// certifies.
func (e *Engine) link(ctx context.Context, local *entity.LocalRecord, ref string) error {
	now := e.now()
	if err := e.local.UpdateSyncMeta(ctx, e.kind, local.ID, &ref, &now); err != nil {
		return err
	}
	local.ExternalRef = ref
	local.LastSyncedAt = &now
	return nil
}
