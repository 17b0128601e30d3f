package domain

import (
	"encoding/json"
	"io"
	"sort"
)

// Bank is the universal reaction bank used as the candidate pool for repairs.
// It is built once per batch and shared by reference across workers. No
// accessor exposes the underlying document: every read returns a copy, so a
// Bank cannot be mutated after construction.
type Bank struct {
	id          string
	model       *Model
	reactions   map[string]int
	metabolites map[string]int
}

// NewBank indexes a private copy of the supplied model as a reaction bank.
func NewBank(model *Model) *Bank {
	owned := model.Clone()
	if owned == nil {
		owned = &Model{}
	}
	b := &Bank{
		id:          owned.ID,
		model:       owned,
		reactions:   make(map[string]int, len(owned.Reactions)),
		metabolites: make(map[string]int, len(owned.Metabolites)),
	}
	for i, rxn := range owned.Reactions {
		b.reactions[rxn.ID] = i
	}
	for i, met := range owned.Metabolites {
		b.metabolites[met.ID] = i
	}
	return b
}

// ID returns the identifier of the bank document.
func (b *Bank) ID() string { return b.id }

// Len returns the number of reactions in the bank.
func (b *Bank) Len() int { return len(b.model.Reactions) }

// Reaction returns a copy of the bank reaction with the given identifier.
func (b *Bank) Reaction(id string) (Reaction, bool) {
	idx, ok := b.reactions[id]
	if !ok {
		return Reaction{}, false
	}
	return b.model.Reactions[idx].Clone(), true
}

// Metabolite returns a copy of the bank metabolite with the given identifier.
func (b *Bank) Metabolite(id string) (Metabolite, bool) {
	idx, ok := b.metabolites[id]
	if !ok {
		return Metabolite{}, false
	}
	return b.model.Metabolites[idx].Clone(), true
}

// ReactionIDs returns the bank's reaction identifiers in sorted order.
func (b *Bank) ReactionIDs() []string {
	ids := make([]string, 0, len(b.reactions))
	for id := range b.reactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EncodeJSON writes the bank document to w in model document format. External
// repair searches consume this serialisation.
func (b *Bank) EncodeJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(b.model)
}
