package reconcile

import (
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/similarity"
)

// MatchKind is the kind of link found between a local record and a remote row.
type MatchKind int

// Match kinds, in precedence order.
const (
	NoMatch MatchKind = iota
	ExactID
	ExactName
	FuzzyName
)

// String returns the match kind name.
func (k MatchKind) String() string {
	switch k {
	case ExactID:
		return "exact_id"
	case ExactName:
		return "exact_name"
	case FuzzyName:
		return "fuzzy_name"
	default:
		return "no_match"
	}
}

// MatchResult is the outcome of matching one local record.
type MatchResult struct {
	Kind   MatchKind
	Score  float64
	Remote *entity.RemoteRecord
}

// Linked reports whether the match links the record to its remote row.
func (m MatchResult) Linked() bool {
	return m.Kind == ExactID || m.Kind == ExactName
}

// Matcher links local records to remote rows for a single pass. Each row is
// claimed by at most one local record; fuzzy matches never claim but flag
// the row so it is not offered for creation on the other side.
type Matcher struct {
	index     *Index
	threshold float64
	claimed   map[string]string
	flagged   map[string]bool
}

// NewMatcher returns a matcher over ix.
func NewMatcher(ix *Index, threshold float64) *Matcher {
	return &Matcher{
		index:     ix,
		threshold: threshold,
		claimed:   make(map[string]string),
		flagged:   make(map[string]bool),
	}
}

// Match matches every local record and returns results in the same order.
// Exact matches are settled for all records before the fuzzy sweep so a
// fuzzy candidate can never take a row an exact match would claim.
func (m *Matcher) Match(locals []entity.LocalRecord) []MatchResult {
	results := make([]MatchResult, len(locals))

	for i, local := range locals {
		if local.ExternalRef == "" {
			continue
		}
		if row, ok := m.index.ByID[local.ExternalRef]; ok && !m.Claimed(row.ExternalID) {
			m.Claim(row.ExternalID, local.ID)
			results[i] = MatchResult{Kind: ExactID, Score: 1, Remote: row}
		}
	}

	for i, local := range locals {
		if results[i].Kind != NoMatch {
			continue
		}
		row, ok := m.index.ByName[similarity.Normalize(local.DisplayName)]
		if !ok {
			continue
		}
		if holder, claimed := m.claimed[row.ExternalID]; claimed && holder != local.ID {
			results[i] = MatchResult{Kind: FuzzyName, Score: 1, Remote: row}
			continue
		}
		m.Claim(row.ExternalID, local.ID)
		results[i] = MatchResult{Kind: ExactName, Score: 1, Remote: row}
	}

	for i, local := range locals {
		if results[i].Kind != NoMatch {
			continue
		}
		if row, score := m.best(local.DisplayName); row != nil {
			m.flagged[row.ExternalID] = true
			results[i] = MatchResult{Kind: FuzzyName, Score: score, Remote: row}
		}
	}

	return results
}

// best returns the unclaimed live row most similar to name, if it reaches
// the threshold. Ties keep the earlier row.
func (m *Matcher) best(name string) (*entity.RemoteRecord, float64) {
	var (
		best      *entity.RemoteRecord
		bestScore float64
	)
	for _, row := range m.index.Rows {
		if row.Deleted || m.Claimed(row.ExternalID) {
			continue
		}
		if score := similarity.Score(name, row.Name()); score > bestScore {
			best, bestScore = row, score
		}
	}
	if best == nil || bestScore < m.threshold {
		return nil, 0
	}
	return best, bestScore
}

// Claim links a row to a local record for the rest of the pass.
func (m *Matcher) Claim(externalID, localID string) {
	m.claimed[externalID] = localID
}

// Claimed reports whether a row is linked to a local record in this pass.
func (m *Matcher) Claimed(externalID string) bool {
	_, ok := m.claimed[externalID]
	return ok
}

// Flagged reports whether a row was reported as a potential duplicate.
func (m *Matcher) Flagged(externalID string) bool {
	return m.flagged[externalID]
}

// Unclaimed returns live rows that are neither claimed nor flagged, in
// snapshot order.
func (m *Matcher) Unclaimed() []*entity.RemoteRecord {
	var rows []*entity.RemoteRecord
	for _, row := range m.index.Rows {
		if row.Deleted || m.Claimed(row.ExternalID) || m.Flagged(row.ExternalID) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
