// Package domain defines the network model documents, media, experiments and
// outcome records shared by the fluxrepair batch pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Metabolite is a chemical species inside one compartment of a network model.
type Metabolite struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Compartment string         `json:"compartment"`
	Formula     string         `json:"formula"`
	Charge      int            `json:"charge"`
	Annotation  map[string]any `json:"annotation,omitempty"`

	// Extra holds document fields without a typed counterpart, e.g. notes.
	Extra map[string]json.RawMessage `json:"-"`
}

// Reaction maps metabolite identifiers to signed stoichiometric coefficients
// and carries the flux bounds of the reaction. A negative lower bound denotes
// reversibility or, for exchange reactions, uptake.
type Reaction struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name,omitempty"`
	Metabolites          map[string]float64 `json:"metabolites"`
	LowerBound           float64            `json:"lower_bound"`
	UpperBound           float64            `json:"upper_bound"`
	GeneReactionRule     string             `json:"gene_reaction_rule"`
	Subsystem            string             `json:"subsystem"`
	ObjectiveCoefficient float64            `json:"objective_coefficient,omitempty"`
	Annotation           map[string]any     `json:"annotation,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Model is a named collection of reactions and metabolites. The JSON layout
// follows the COBRA model document format so draft reconstructions can be
// read and written without conversion.
type Model struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Compartments map[string]string `json:"compartments,omitempty"`
	Metabolites  []Metabolite      `json:"metabolites"`
	Reactions    []Reaction        `json:"reactions"`
	Genes        []json.RawMessage `json:"genes,omitempty"`
	Version      string            `json:"version,omitempty"`

	// Extra carries model-level fields such as notes and annotation so a
	// document written back keeps everything its source carried.
	Extra map[string]json.RawMessage `json:"-"`
}

// Clone returns a deep copy of the model. Callers that mutate bounds or
// reactions always work on a clone so a base model can be reused across
// conditions.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := &Model{
		ID:           m.ID,
		Name:         m.Name,
		Compartments: cloneStrings(m.Compartments),
		Metabolites:  make([]Metabolite, len(m.Metabolites)),
		Reactions:    make([]Reaction, len(m.Reactions)),
		Version:      m.Version,
		Extra:        cloneRaw(m.Extra),
	}
	for i, met := range m.Metabolites {
		out.Metabolites[i] = met.Clone()
	}
	for i, rxn := range m.Reactions {
		out.Reactions[i] = rxn.Clone()
	}
	if m.Genes != nil {
		out.Genes = make([]json.RawMessage, len(m.Genes))
		for i, g := range m.Genes {
			out.Genes[i] = append(json.RawMessage(nil), g...)
		}
	}
	return out
}

// Clone returns a deep copy of the metabolite.
func (m Metabolite) Clone() Metabolite {
	m.Annotation = cloneAny(m.Annotation)
	m.Extra = cloneRaw(m.Extra)
	return m
}

// Clone returns a deep copy of the reaction.
func (r Reaction) Clone() Reaction {
	if r.Metabolites != nil {
		stoich := make(map[string]float64, len(r.Metabolites))
		for id, coef := range r.Metabolites {
			stoich[id] = coef
		}
		r.Metabolites = stoich
	}
	r.Annotation = cloneAny(r.Annotation)
	r.Extra = cloneRaw(r.Extra)
	return r
}

// MetaboliteIDs returns the sorted metabolite identifiers referenced by the reaction.
func (r Reaction) MetaboliteIDs() []string {
	ids := make([]string, 0, len(r.Metabolites))
	for id := range r.Metabolites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reaction looks up a reaction by identifier.
func (m *Model) Reaction(id string) (Reaction, bool) {
	for _, rxn := range m.Reactions {
		if rxn.ID == id {
			return rxn, true
		}
	}
	return Reaction{}, false
}

// Metabolite looks up a metabolite by identifier.
func (m *Model) Metabolite(id string) (Metabolite, bool) {
	for _, met := range m.Metabolites {
		if met.ID == id {
			return met, true
		}
	}
	return Metabolite{}, false
}

// ReactionIDs returns the set of reaction identifiers in the model.
func (m *Model) ReactionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.Reactions))
	for _, rxn := range m.Reactions {
		ids[rxn.ID] = struct{}{}
	}
	return ids
}

// MetaboliteIDs returns the set of metabolite identifiers in the model.
func (m *Model) MetaboliteIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.Metabolites))
	for _, met := range m.Metabolites {
		ids[met.ID] = struct{}{}
	}
	return ids
}

// Validate checks the structural invariants of a model document: unique
// identifiers, ordered bounds, and that every metabolite referenced by a
// reaction exists in the metabolite collection.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("model is nil")
	}
	var problems []string
	mets := make(map[string]struct{}, len(m.Metabolites))
	for _, met := range m.Metabolites {
		if strings.TrimSpace(met.ID) == "" {
			problems = append(problems, "metabolite with empty id")
			continue
		}
		if _, dup := mets[met.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate metabolite %s", met.ID))
		}
		mets[met.ID] = struct{}{}
	}
	rxns := make(map[string]struct{}, len(m.Reactions))
	for _, rxn := range m.Reactions {
		if strings.TrimSpace(rxn.ID) == "" {
			problems = append(problems, "reaction with empty id")
			continue
		}
		if _, dup := rxns[rxn.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate reaction %s", rxn.ID))
		}
		rxns[rxn.ID] = struct{}{}
		if rxn.LowerBound > rxn.UpperBound {
			problems = append(problems, fmt.Sprintf("reaction %s lower bound %g exceeds upper bound %g", rxn.ID, rxn.LowerBound, rxn.UpperBound))
		}
		for _, metID := range rxn.MetaboliteIDs() {
			if _, ok := mets[metID]; !ok {
				problems = append(problems, fmt.Sprintf("reaction %s references unknown metabolite %s", rxn.ID, metID))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid model %s: %s", m.ID, strings.Join(problems, "; "))
	}
	return nil
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// cloneAny copies annotation maps. Annotation values are JSON scalars or
// string lists, so a shallow copy of nested slices is sufficient.
func cloneAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		out[k] = v
	}
	return out
}
