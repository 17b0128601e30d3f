package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleModel() *Model {
	return &Model{
		ID:           "OrgA_draft",
		Compartments: map[string]string{"c0": "Cytosol", "e0": "Extracellular"},
		Metabolites: []Metabolite{
			{ID: "cpd00027_e0", Compartment: "e0", Formula: "C6H12O6"},
			{ID: "cpd00027_c0", Compartment: "c0", Formula: "C6H12O6"},
		},
		Reactions: []Reaction{
			{ID: "EX_cpd00027_e0", Metabolites: map[string]float64{"cpd00027_e0": -1}, LowerBound: -10, UpperBound: 100},
			{ID: "rxn05573_c0", Metabolites: map[string]float64{"cpd00027_e0": -1, "cpd00027_c0": 1}, LowerBound: 0, UpperBound: 1000},
		},
	}
}

func TestModelCloneIsIndependent(t *testing.T) {
	base := sampleModel()
	base.Reactions[0].Annotation = map[string]any{"sbo": "SBO:0000627"}
	clone := base.Clone()
	clone.Reactions[0].LowerBound = 0
	clone.Reactions[1].Metabolites["cpd00027_c0"] = 2
	clone.Reactions[0].Annotation["sbo"] = "changed"
	clone.Compartments["p0"] = "Periplasm"

	if base.Reactions[0].LowerBound != -10 {
		t.Fatalf("clone mutated base bounds")
	}
	if base.Reactions[1].Metabolites["cpd00027_c0"] != 1 {
		t.Fatalf("clone mutated base stoichiometry")
	}
	if base.Reactions[0].Annotation["sbo"] != "SBO:0000627" {
		t.Fatalf("clone mutated base annotation")
	}
	if _, ok := base.Compartments["p0"]; ok {
		t.Fatalf("clone mutated base compartments")
	}
}

func TestModelValidate(t *testing.T) {
	if err := sampleModel().Validate(); err != nil {
		t.Fatalf("expected valid model, got %v", err)
	}
	cases := map[string]func(*Model){
		"unknown metabolite": func(m *Model) {
			m.Reactions[1].Metabolites["cpd00001_c0"] = -1
		},
		"duplicate reaction": func(m *Model) {
			m.Reactions = append(m.Reactions, m.Reactions[0].Clone())
		},
		"inverted bounds": func(m *Model) {
			m.Reactions[1].LowerBound = 5
			m.Reactions[1].UpperBound = 1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := sampleModel()
			mutate(m)
			if err := m.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestModelJSONRoundTripKeepsGenes(t *testing.T) {
	doc := `{"id":"m","metabolites":[],"reactions":[],"genes":[{"id":"g1","name":"dnaA"}],"version":"1"}`
	var m Model
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(m.Clone())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"dnaA"`) {
		t.Fatalf("genes dropped: %s", out)
	}
}

func TestModelJSONRoundTripKeepsUnknownFields(t *testing.T) {
	doc := `{
  "id": "OrgA_draft",
  "notes": {"source": "ModelSEED", "template": "GramNegative"},
  "annotation": {"taxonomy": "287"},
  "metabolites": [{"id": "cpd00027_c0", "compartment": "c0", "formula": "", "charge": 0, "notes": {"seed": "cpd00027"}}],
  "reactions": [{"id": "rxn00001_c0", "metabolites": {"cpd00027_c0": -1}, "lower_bound": 0, "upper_bound": 1000,
    "gene_reaction_rule": "", "subsystem": "", "notes": {"gapfilled": "no"}}]
}`
	var m Model
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m.Extra) != 2 || len(m.Reactions[0].Extra) != 1 || len(m.Metabolites[0].Extra) != 1 {
		t.Fatalf("extras not captured: model=%v rxn=%v met=%v", m.Extra, m.Reactions[0].Extra, m.Metabolites[0].Extra)
	}
	clone := m.Clone()
	clone.Extra["notes"][2] = 'X'
	if string(m.Extra["notes"]) == string(clone.Extra["notes"]) {
		t.Fatalf("clone shares extra bytes")
	}

	out, err := json.Marshal(m.Clone())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if back["notes"].(map[string]any)["template"] != "GramNegative" {
		t.Fatalf("model notes dropped: %s", out)
	}
	if back["annotation"].(map[string]any)["taxonomy"] != "287" {
		t.Fatalf("model annotation dropped: %s", out)
	}
	rxn := back["reactions"].([]any)[0].(map[string]any)
	if rxn["notes"].(map[string]any)["gapfilled"] != "no" || rxn["id"] != "rxn00001_c0" {
		t.Fatalf("reaction notes dropped: %s", out)
	}
	met := back["metabolites"].([]any)[0].(map[string]any)
	if met["notes"].(map[string]any)["seed"] != "cpd00027" {
		t.Fatalf("metabolite notes dropped: %s", out)
	}
}

func TestModelJSONTypedFieldsWinOverExtra(t *testing.T) {
	m := Model{ID: "typed", Extra: map[string]json.RawMessage{"id": json.RawMessage(`"stale"`)}}
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"id":"typed"`) || strings.Contains(string(out), "stale") {
		t.Fatalf("unexpected document %s", out)
	}
}

func TestDerive(t *testing.T) {
	base := sampleModel()
	repaired := base.Clone()
	repaired.ID = "OrgA_gapfilled"
	repaired.Reactions = append(repaired.Reactions,
		Reaction{ID: "rxn00001_c0", Metabolites: map[string]float64{"cpd00027_c0": -1}},
		Reaction{ID: "rxn00000_c0", Metabolites: map[string]float64{"cpd00027_c0": 1}},
	)
	d, err := Derive(base, repaired)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if strings.Join(d.AddedSet, ",") != "rxn00000_c0,rxn00001_c0" {
		t.Fatalf("unexpected added set %v", d.AddedSet)
	}
	if d.BaseCount != 2 || d.FinalCount != 4 {
		t.Fatalf("unexpected counts %+v", d)
	}
	if _, err := Derive(repaired, base); err == nil {
		t.Fatalf("expected non-superset error")
	}
}

func TestBankReturnsCopies(t *testing.T) {
	src := sampleModel()
	bank := NewBank(src)
	src.Reactions[0].ID = "mutated"
	if _, ok := bank.Reaction("EX_cpd00027_e0"); !ok {
		t.Fatalf("bank must own a private copy of its document")
	}
	rxn, _ := bank.Reaction("rxn05573_c0")
	rxn.Metabolites["cpd00027_c0"] = 42
	again, _ := bank.Reaction("rxn05573_c0")
	if again.Metabolites["cpd00027_c0"] != 1 {
		t.Fatalf("bank reaction mutated through returned copy")
	}
	if bank.Len() != 2 || len(bank.ReactionIDs()) != 2 {
		t.Fatalf("unexpected bank size")
	}
	var buf bytes.Buffer
	if err := bank.EncodeJSON(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(buf.String(), "rxn05573_c0") {
		t.Fatalf("encoded bank missing reaction")
	}
}

func TestParseErrorUnwraps(t *testing.T) {
	inner := errors.New("bad json")
	err := error(&ParseError{Kind: "model", Key: "models/x.json", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatalf("ParseError must unwrap to its cause")
	}
	if !errors.Is(NotFoundError("medium", "media/x.json"), ErrNotFound) {
		t.Fatalf("NotFoundError must wrap ErrNotFound")
	}
}
