package reconcile

import (
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/similarity"
)

// Index is a lookup structure over a remote snapshot.
//
// Rows keeps every row in snapshot order, deleted rows included. ByID and
// ByName only hold live rows; ByName is keyed by the normalized display name
// and the later row wins when two rows share a name.
type Index struct {
	Rows   []*entity.RemoteRecord
	ByID   map[string]*entity.RemoteRecord
	ByName map[string]*entity.RemoteRecord
}

// BuildIndex indexes a snapshot. The snapshot is copied.
func BuildIndex(snapshot []entity.RemoteRecord) *Index {
	ix := &Index{
		Rows:   make([]*entity.RemoteRecord, 0, len(snapshot)),
		ByID:   make(map[string]*entity.RemoteRecord, len(snapshot)),
		ByName: make(map[string]*entity.RemoteRecord, len(snapshot)),
	}
	for _, row := range snapshot {
		r := row.Clone()
		ix.Rows = append(ix.Rows, &r)
		ix.link(&r)
	}
	return ix
}

// Get returns a row by external ID, deleted rows included.
func (ix *Index) Get(externalID string) (*entity.RemoteRecord, bool) {
	if row, ok := ix.ByID[externalID]; ok {
		return row, true
	}
	for _, row := range ix.Rows {
		if row.ExternalID == externalID {
			return row, true
		}
	}
	return nil, false
}

// Live returns the rows that are not deleted, in snapshot order.
func (ix *Index) Live() []*entity.RemoteRecord {
	live := make([]*entity.RemoteRecord, 0, len(ix.ByID))
	for _, row := range ix.Rows {
		if !row.Deleted {
			live = append(live, row)
		}
	}
	return live
}

// Snapshot returns a copy of every row.
func (ix *Index) Snapshot() []entity.RemoteRecord {
	out := make([]entity.RemoteRecord, len(ix.Rows))
	for i, row := range ix.Rows {
		out[i] = row.Clone()
	}
	return out
}

// add appends a row written during the run so later passes see it.
func (ix *Index) add(row entity.RemoteRecord) *entity.RemoteRecord {
	r := row.Clone()
	ix.Rows = append(ix.Rows, &r)
	ix.link(&r)
	return &r
}

// setValues replaces a row's values and re-keys the name map.
func (ix *Index) setValues(row *entity.RemoteRecord, values []string) {
	row.Values = append([]string(nil), values...)
	ix.ByName = make(map[string]*entity.RemoteRecord, len(ix.ByName))
	for _, r := range ix.Rows {
		if !r.Deleted {
			if key := similarity.Normalize(r.Name()); key != "" {
				ix.ByName[key] = r
			}
		}
	}
}

func (ix *Index) link(row *entity.RemoteRecord) {
	if row.Deleted {
		return
	}
	ix.ByID[row.ExternalID] = row
	if key := similarity.Normalize(row.Name()); key != "" {
		ix.ByName[key] = row
	}
}
