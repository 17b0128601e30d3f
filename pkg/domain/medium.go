package domain

import "sort"

// Medium maps exchange reaction identifiers to the maximum uptake rate the
// condition allows. Values follow the COBRA medium convention: positive
// numbers are uptake capacities, applied as negative lower bounds.
type Medium map[string]float64

// ExchangeIDs returns the medium's exchange reaction identifiers in sorted order.
func (m Medium) ExchangeIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of the medium.
func (m Medium) Clone() Medium {
	if m == nil {
		return nil
	}
	out := make(Medium, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
