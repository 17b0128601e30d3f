package network

import (
	"sort"
	"strconv"
	"strings"

	"fluxrepair/pkg/domain"
)

// ReactionString renders rxn as a reaction equation, e.g.
// "cpd00027_e0 --> cpd00027_c0". Unit coefficients are omitted and the arrow
// reflects the bounds: <=> reversible, --> forward, <-- reverse only.
func ReactionString(rxn domain.Reaction) string {
	var reactants, products []string
	ids := make([]string, 0, len(rxn.Metabolites))
	for id := range rxn.Metabolites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		coef := rxn.Metabolites[id]
		switch {
		case coef < 0:
			reactants = append(reactants, term(-coef, id))
		case coef > 0:
			products = append(products, term(coef, id))
		}
	}
	arrow := "-->"
	switch {
	case rxn.LowerBound < 0 && rxn.UpperBound > 0:
		arrow = "<=>"
	case rxn.LowerBound < 0 && rxn.UpperBound <= 0:
		arrow = "<--"
	}
	lhs := strings.Join(reactants, " + ")
	rhs := strings.Join(products, " + ")
	return strings.TrimSpace(lhs + " " + arrow + " " + rhs)
}

func term(coef float64, id string) string {
	if coef == 1 {
		return id
	}
	return strconv.FormatFloat(coef, 'g', -1, 64) + " " + id
}

// Provenance converts the reactions a repair added into ledger detail records.
func Provenance(m *domain.Model, ids []string) []domain.AddedReaction {
	out := make([]domain.AddedReaction, 0, len(ids))
	for _, id := range ids {
		rxn, ok := m.Reaction(id)
		if !ok {
			out = append(out, domain.AddedReaction{ID: id})
			continue
		}
		out = append(out, domain.AddedReaction{
			ID:        rxn.ID,
			Name:      rxn.Name,
			Formula:   ReactionString(rxn),
			Subsystem: rxn.Subsystem,
		})
	}
	return out
}
