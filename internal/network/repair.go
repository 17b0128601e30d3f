package network

import "fluxrepair/pkg/domain"

// MetaboliteSource supplies metabolite records for metabolites a repair
// introduces. *domain.Bank satisfies it.
type MetaboliteSource interface {
	Metabolite(id string) (domain.Metabolite, bool)
}

// Delta tracks what a repair application changed.
type Delta struct {
	AddedReactions   []string `json:"added_reactions"`
	AddedMetabolites []string `json:"added_metabolites"`
	SkippedReactions []string `json:"skipped_reactions"`
}

// AddReactions returns a copy of m whose reaction collection is the union of
// m's reactions and rxns. Reactions whose identifier already exists are
// skipped, so applying the same set twice yields the same document. Any
// metabolite referenced by an added reaction and missing from the model is
// inserted: from source when it knows the metabolite, otherwise with minimal
// attributes (charge 0, empty formula, compartment inferred from context).
func AddReactions(m *domain.Model, rxns []domain.Reaction, source MetaboliteSource) (*domain.Model, Delta) {
	out := m.Clone()
	var delta Delta
	rxnIDs := out.ReactionIDs()
	metIDs := out.MetaboliteIDs()
	for _, rxn := range rxns {
		if _, exists := rxnIDs[rxn.ID]; exists {
			delta.SkippedReactions = append(delta.SkippedReactions, rxn.ID)
			continue
		}
		for _, metID := range rxn.MetaboliteIDs() {
			if _, exists := metIDs[metID]; exists {
				continue
			}
			out.Metabolites = append(out.Metabolites, inferMetabolite(metID, rxn, out, source))
			metIDs[metID] = struct{}{}
			delta.AddedMetabolites = append(delta.AddedMetabolites, metID)
		}
		out.Reactions = append(out.Reactions, rxn.Clone())
		rxnIDs[rxn.ID] = struct{}{}
		delta.AddedReactions = append(delta.AddedReactions, rxn.ID)
	}
	return out, delta
}

func inferMetabolite(id string, rxn domain.Reaction, m *domain.Model, source MetaboliteSource) domain.Metabolite {
	if source != nil {
		if met, ok := source.Metabolite(id); ok {
			return met
		}
	}
	met := domain.Metabolite{ID: id, Name: id, Charge: 0, Formula: ""}
	if c := compartmentFromID(id); c != "" {
		met.Compartment = c
		return met
	}
	// Fall back to a sibling metabolite of the same reaction.
	for _, sib := range rxn.MetaboliteIDs() {
		if sib == id {
			continue
		}
		if known, ok := m.Metabolite(sib); ok && known.Compartment != "" {
			met.Compartment = known.Compartment
			return met
		}
	}
	return met
}
