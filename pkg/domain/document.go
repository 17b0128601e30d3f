package domain

import (
	"encoding/json"
	"maps"
)

// Draft reconstructions carry fields the pipeline never interprets (notes,
// model-level annotation, tool specific keys). They are kept in Extra on
// decode and merged back on encode; typed fields win on a name clash.

var (
	modelKeys      = []string{"id", "name", "compartments", "metabolites", "reactions", "genes", "version"}
	metaboliteKeys = []string{"id", "name", "compartment", "formula", "charge", "annotation"}
	reactionKeys   = []string{"id", "name", "metabolites", "lower_bound", "upper_bound", "gene_reaction_rule", "subsystem", "objective_coefficient", "annotation"}
)

type (
	modelDoc      Model
	metaboliteDoc Metabolite
	reactionDoc   Reaction
)

func (m *Model) UnmarshalJSON(data []byte) error {
	var doc modelDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	extra, err := unknownFields(data, modelKeys)
	if err != nil {
		return err
	}
	*m = Model(doc)
	m.Extra = extra
	return nil
}

func (m Model) MarshalJSON() ([]byte, error) {
	return withExtra(modelDoc(m), m.Extra)
}

func (m *Metabolite) UnmarshalJSON(data []byte) error {
	var doc metaboliteDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	extra, err := unknownFields(data, metaboliteKeys)
	if err != nil {
		return err
	}
	*m = Metabolite(doc)
	m.Extra = extra
	return nil
}

func (m Metabolite) MarshalJSON() ([]byte, error) {
	return withExtra(metaboliteDoc(m), m.Extra)
}

func (r *Reaction) UnmarshalJSON(data []byte) error {
	var doc reactionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	extra, err := unknownFields(data, reactionKeys)
	if err != nil {
		return err
	}
	*r = Reaction(doc)
	r.Extra = extra
	return nil
}

func (r Reaction) MarshalJSON() ([]byte, error) {
	return withExtra(reactionDoc(r), r.Extra)
}

func unknownFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func withExtra(typed any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, typed := fields[k]; !typed {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
