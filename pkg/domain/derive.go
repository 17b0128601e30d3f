package domain

import (
	"fmt"
	"sort"
)

// Derivation describes a repaired model relative to the model it was derived from.
type Derivation struct {
	BaseID     string   `json:"base_id"`
	DerivedID  string   `json:"derived_id"`
	AddedSet   []string `json:"added_set"`
	BaseCount  int      `json:"base_reactions"`
	FinalCount int      `json:"derived_reactions"`
}

// Derive computes the added reaction set of repaired relative to base. The
// relation only holds when repaired keeps every reaction of base; otherwise
// an error naming the first missing reactions is returned.
func Derive(base, repaired *Model) (Derivation, error) {
	if base == nil || repaired == nil {
		return Derivation{}, fmt.Errorf("derive: nil model")
	}
	baseIDs := base.ReactionIDs()
	repairedIDs := repaired.ReactionIDs()
	var missing []string
	for id := range baseIDs {
		if _, ok := repairedIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		if len(missing) > 5 {
			missing = append(missing[:5], "...")
		}
		return Derivation{}, fmt.Errorf("model %s is not a repair of %s: missing reactions %v", repaired.ID, base.ID, missing)
	}
	added := make([]string, 0, len(repairedIDs)-len(baseIDs))
	for id := range repairedIDs {
		if _, ok := baseIDs[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Strings(added)
	return Derivation{
		BaseID:     base.ID,
		DerivedID:  repaired.ID,
		AddedSet:   added,
		BaseCount:  len(base.Reactions),
		FinalCount: len(repaired.Reactions),
	}, nil
}
