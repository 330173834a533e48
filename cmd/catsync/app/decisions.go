package app

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/catsync"
	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/reconcile"
)

// DecisionFile is the YAML document exchanged between conflicts --out and
// resolve --file.
type DecisionFile struct {
	Kind      entity.Kind                  `yaml:"kind,omitempty"`
	Catalog   string                       `yaml:"catalog,omitempty"`
	Decisions []reconcile.ConflictDecision `yaml:"decisions"`
}

// WriteDecisions writes decisions for a binding to path.
func WriteDecisions(path string, b catsync.Binding, decisions []reconcile.ConflictDecision) error {
	doc := DecisionFile{Kind: b.Kind, Catalog: b.CatalogID, Decisions: decisions}
	if doc.Decisions == nil {
		doc.Decisions = []reconcile.ConflictDecision{}
	}
	data, err := yaml.MarshalWithOptions(doc, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return errors.WrapParse("yaml", path, err)
	}
	if err := os.WriteFile(path, data, constants.FilePermissions); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}

// ReadDecisions reads a decision file. A bare YAML list of decisions is
// accepted as well.
func ReadDecisions(path string) (*DecisionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	doc := &DecisionFile{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		var list []reconcile.ConflictDecision
		if yaml.Unmarshal(data, &list) != nil {
			return nil, errors.WrapParse("yaml", path, err)
		}
		doc = &DecisionFile{Decisions: list}
	}

	for i, d := range doc.Decisions {
		if d.TargetID == "" {
			return nil, errors.NewValidationError("target_id", i, "every decision needs a target_id")
		}
	}
	return doc, nil
}
