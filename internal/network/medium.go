package network

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"fluxrepair/pkg/domain"
)

// MediumError reports a medium entry that cannot be applied as an uptake bound.
type MediumError struct {
	Exchanges []string
}

func (e *MediumError) Error() string {
	return fmt.Sprintf("medium has invalid uptake values for %s", strings.Join(e.Exchanges, ", "))
}

// ApplyMedium returns a copy of m whose exchange lower bounds encode the
// medium: an exchange listed in the medium gets lower bound -uptake, every
// other exchange is closed (lower bound 0). Medium entries naming reactions
// the model does not have are ignored. The input model is never modified.
func (d ExchangeDetector) ApplyMedium(m *domain.Model, medium domain.Medium) (*domain.Model, error) {
	var invalid []string
	for id, uptake := range medium {
		if math.IsNaN(uptake) || math.IsInf(uptake, 0) || uptake < 0 {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, &MediumError{Exchanges: invalid}
	}
	out := m.Clone()
	for i := range out.Reactions {
		rxn := &out.Reactions[i]
		if !d.IsExchange(out, *rxn) {
			continue
		}
		rxn.LowerBound = 0
		if uptake, listed := medium[rxn.ID]; listed && uptake > 0 {
			rxn.LowerBound = -uptake
		}
		if rxn.UpperBound < rxn.LowerBound {
			rxn.UpperBound = rxn.LowerBound
		}
	}
	return out, nil
}

// ApplyMedium applies medium using the default extracellular compartments.
func ApplyMedium(m *domain.Model, medium domain.Medium) (*domain.Model, error) {
	return NewExchangeDetector(nil).ApplyMedium(m, medium)
}
