// Package network implements lightweight document transforms over network
// models: medium application, repair application and exchange correction.
// None of these call a solver; they edit the model document only.
package network

import (
	"strings"

	"fluxrepair/pkg/domain"
)

const exchangePrefix = "EX_"

// DefaultExtracellular lists the compartment tags treated as the model boundary.
var DefaultExtracellular = []string{"e", "e0"}

// ExchangeDetector decides which reactions of a model are exchange reactions.
type ExchangeDetector struct {
	extracellular map[string]struct{}
}

// NewExchangeDetector builds a detector for the given extracellular
// compartments. An empty list falls back to DefaultExtracellular.
func NewExchangeDetector(compartments []string) ExchangeDetector {
	if len(compartments) == 0 {
		compartments = DefaultExtracellular
	}
	set := make(map[string]struct{}, len(compartments))
	for _, c := range compartments {
		c = strings.TrimSpace(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return ExchangeDetector{extracellular: set}
}

// IsExchange reports whether rxn exchanges a single metabolite across the
// model boundary: it has exactly one metabolite and either carries the EX_
// prefix or that metabolite lives in an extracellular compartment.
func (d ExchangeDetector) IsExchange(m *domain.Model, rxn domain.Reaction) bool {
	if len(rxn.Metabolites) != 1 {
		return false
	}
	if strings.HasPrefix(rxn.ID, exchangePrefix) {
		return true
	}
	for metID := range rxn.Metabolites {
		if met, ok := m.Metabolite(metID); ok {
			_, boundary := d.extracellular[met.Compartment]
			return boundary
		}
		_, boundary := d.extracellular[compartmentFromID(metID)]
		return boundary
	}
	return false
}

// Exchanges returns the identifiers of the exchange reactions of m in document order.
func (d ExchangeDetector) Exchanges(m *domain.Model) []string {
	var ids []string
	for _, rxn := range m.Reactions {
		if d.IsExchange(m, rxn) {
			ids = append(ids, rxn.ID)
		}
	}
	return ids
}

// ExchangeSpec names an exchange reaction to add during exchange correction.
type ExchangeSpec struct {
	CompoundID string  `json:"compound_id" yaml:"compound_id" mapstructure:"compound_id"`
	Name       string  `json:"name" yaml:"name" mapstructure:"name"`
	LowerBound float64 `json:"lower_bound" yaml:"lower_bound" mapstructure:"lower_bound"`
	UpperBound float64 `json:"upper_bound" yaml:"upper_bound" mapstructure:"upper_bound"`
}

// DefaultExchangeBound is the symmetric bound given to corrected exchanges.
const DefaultExchangeBound = 100.0

// ReactionID returns the exchange reaction identifier, e.g. EX_cpd10515_e0.
func (s ExchangeSpec) ReactionID(compartment string) string {
	return exchangePrefix + s.MetaboliteID(compartment)
}

// MetaboliteID returns the boundary metabolite identifier, e.g. cpd10515_e0.
func (s ExchangeSpec) MetaboliteID(compartment string) string {
	return s.CompoundID + "_" + compartment
}

// Correction summarises one exchange-correction pass over a model.
type Correction struct {
	ModelID             string   `json:"model_id"`
	ExchangesAdded      []string `json:"exchanges_added"`
	AlreadyPresent      []string `json:"already_present"`
	OriginalReactions   int      `json:"original_reactions"`
	CorrectedReactions  int      `json:"corrected_reactions"`
	MetabolitesInserted []string `json:"metabolites_inserted"`
}

// AddExchanges returns a copy of m with an exchange reaction for every spec
// whose reaction is not already present. Boundary metabolites are inserted
// when missing. Existing reactions are never touched, so the edit is
// idempotent.
func AddExchanges(m *domain.Model, specs []ExchangeSpec, compartment string) (*domain.Model, Correction) {
	if compartment == "" {
		compartment = "e0"
	}
	out := m.Clone()
	corr := Correction{ModelID: m.ID, OriginalReactions: len(m.Reactions)}
	rxnIDs := out.ReactionIDs()
	metIDs := out.MetaboliteIDs()
	for _, spec := range specs {
		rxnID := spec.ReactionID(compartment)
		if _, exists := rxnIDs[rxnID]; exists {
			corr.AlreadyPresent = append(corr.AlreadyPresent, rxnID)
			continue
		}
		metID := spec.MetaboliteID(compartment)
		if _, exists := metIDs[metID]; !exists {
			out.Metabolites = append(out.Metabolites, domain.Metabolite{
				ID:          metID,
				Name:        spec.Name,
				Compartment: compartment,
				Charge:      0,
				Formula:     "",
				Annotation:  map[string]any{},
			})
			metIDs[metID] = struct{}{}
			corr.MetabolitesInserted = append(corr.MetabolitesInserted, metID)
		}
		lb, ub := spec.LowerBound, spec.UpperBound
		if lb == 0 && ub == 0 {
			lb, ub = -DefaultExchangeBound, DefaultExchangeBound
		}
		name := spec.Name + " exchange"
		if spec.Name == "" {
			name = rxnID
		}
		out.Reactions = append(out.Reactions, domain.Reaction{
			ID:          rxnID,
			Name:        name,
			Metabolites: map[string]float64{metID: -1},
			LowerBound:  lb,
			UpperBound:  ub,
			Annotation:  map[string]any{},
		})
		rxnIDs[rxnID] = struct{}{}
		corr.ExchangesAdded = append(corr.ExchangesAdded, rxnID)
	}
	corr.CorrectedReactions = len(out.Reactions)
	return out, corr
}

// compartmentFromID extracts the compartment suffix of a metabolite
// identifier such as cpd00027_c0. It returns "" when there is no suffix.
func compartmentFromID(id string) string {
	idx := strings.LastIndex(id, "_")
	if idx <= 0 || idx == len(id)-1 {
		return ""
	}
	return id[idx+1:]
}
