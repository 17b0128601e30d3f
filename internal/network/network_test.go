package network

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrepair/pkg/domain"
)

func draftModel() *domain.Model {
	return &domain.Model{
		ID: "OrgA_draft",
		Metabolites: []domain.Metabolite{
			{ID: "cpd00027_e0", Compartment: "e0"},
			{ID: "cpd00027_c0", Compartment: "c0"},
			{ID: "cpd00029_e0", Compartment: "e0"},
			{ID: "cpd11416_c0", Compartment: "c0"},
		},
		Reactions: []domain.Reaction{
			{ID: "EX_cpd00027_e0", Metabolites: map[string]float64{"cpd00027_e0": -1}, LowerBound: -5, UpperBound: 1000},
			{ID: "EX_cpd00029_e0", Metabolites: map[string]float64{"cpd00029_e0": -1}, LowerBound: -5, UpperBound: 1000},
			{ID: "rxn05573_c0", Metabolites: map[string]float64{"cpd00027_e0": -1, "cpd00027_c0": 1}, LowerBound: 0, UpperBound: 1000},
			{ID: "SK_cpd11416_c0", Metabolites: map[string]float64{"cpd11416_c0": -1}, LowerBound: 0, UpperBound: 1000},
		},
	}
}

func bounds(m *domain.Model) map[string]float64 {
	out := make(map[string]float64, len(m.Reactions))
	for _, r := range m.Reactions {
		out[r.ID] = r.LowerBound
	}
	return out
}

func TestApplyMediumSetsAndClosesExchanges(t *testing.T) {
	base := draftModel()
	got, err := ApplyMedium(base, domain.Medium{"EX_cpd00027_e0": 10, "EX_cpd99999_e0": 3})
	require.NoError(t, err)

	want := map[string]float64{
		"EX_cpd00027_e0": -10,
		"EX_cpd00029_e0": 0,
		"rxn05573_c0":    0,
		"SK_cpd11416_c0": 0,
	}
	assert.Empty(t, cmp.Diff(want, bounds(got)))
	assert.Equal(t, -5.0, base.Reactions[0].LowerBound, "input model must not be mutated")
	assert.Len(t, got.Reactions, len(base.Reactions))
}

func TestApplyMediumReusedBaseAcrossConditions(t *testing.T) {
	base := draftModel()
	glucose, err := ApplyMedium(base, domain.Medium{"EX_cpd00027_e0": 10})
	require.NoError(t, err)
	acetate, err := ApplyMedium(base, domain.Medium{"EX_cpd00029_e0": 20})
	require.NoError(t, err)

	assert.Equal(t, -10.0, bounds(glucose)["EX_cpd00027_e0"])
	assert.Equal(t, 0.0, bounds(acetate)["EX_cpd00027_e0"], "previous condition leaked into the next")
	assert.Equal(t, -20.0, bounds(acetate)["EX_cpd00029_e0"])
}

func TestApplyMediumRejectsInvalidUptake(t *testing.T) {
	_, err := ApplyMedium(draftModel(), domain.Medium{"EX_cpd00027_e0": -1})
	var medErr *MediumError
	require.ErrorAs(t, err, &medErr)
	assert.Equal(t, []string{"EX_cpd00027_e0"}, medErr.Exchanges)
}

func TestExchangeDetectorUsesCompartments(t *testing.T) {
	m := draftModel()
	m.Reactions = append(m.Reactions, domain.Reaction{ID: "boundary_ace", Metabolites: map[string]float64{"cpd00029_e0": -1}})
	ids := NewExchangeDetector(nil).Exchanges(m)
	assert.Equal(t, []string{"EX_cpd00027_e0", "EX_cpd00029_e0", "boundary_ace"}, ids)

	custom := NewExchangeDetector([]string{"ext"})
	assert.False(t, custom.IsExchange(m, m.Reactions[len(m.Reactions)-1]))
}

func bankModel() *domain.Model {
	return &domain.Model{
		ID: "universal",
		Metabolites: []domain.Metabolite{
			{ID: "cpd00020_c0", Name: "Pyruvate", Compartment: "c0", Formula: "C3H3O3", Charge: -1},
		},
		Reactions: []domain.Reaction{
			{ID: "R1", Name: "glucose to pyruvate", Metabolites: map[string]float64{"cpd00027_c0": -1, "cpd00020_c0": 2}, LowerBound: 0, UpperBound: 1000, Subsystem: "Glycolysis"},
			{ID: "R2", Metabolites: map[string]float64{"cpd00020_c0": -1, "cpd11416_c0": 1, "cpd90000": 1}, LowerBound: -1000, UpperBound: 1000},
		},
	}
}

func TestAddReactionsInsertsMetabolitesAndTracksDelta(t *testing.T) {
	bank := domain.NewBank(bankModel())
	r1, _ := bank.Reaction("R1")
	r2, _ := bank.Reaction("R2")

	repaired, delta := AddReactions(draftModel(), []domain.Reaction{r1, r2}, bank)
	require.NoError(t, repaired.Validate())
	assert.Equal(t, []string{"R1", "R2"}, delta.AddedReactions)
	assert.Equal(t, []string{"cpd00020_c0", "cpd90000"}, delta.AddedMetabolites)

	pyr, ok := repaired.Metabolite("cpd00020_c0")
	require.True(t, ok)
	assert.Equal(t, "C3H3O3", pyr.Formula, "bank record preferred when available")

	unknown, ok := repaired.Metabolite("cpd90000")
	require.True(t, ok)
	assert.Equal(t, "c0", unknown.Compartment, "compartment copied from sibling metabolite")
	assert.Equal(t, 0, unknown.Charge)
	assert.Equal(t, "", unknown.Formula)
}

func TestAddReactionsIsIdempotent(t *testing.T) {
	bank := domain.NewBank(bankModel())
	r1, _ := bank.Reaction("R1")
	r2, _ := bank.Reaction("R2")
	set := []domain.Reaction{r1, r2}

	once, _ := AddReactions(draftModel(), set, bank)
	twice, delta := AddReactions(once, set, bank)

	assert.Equal(t, sortedKeys(once.ReactionIDs()), sortedKeys(twice.ReactionIDs()))
	assert.Equal(t, sortedKeys(once.MetaboliteIDs()), sortedKeys(twice.MetaboliteIDs()))
	assert.Equal(t, []string{"R1", "R2"}, delta.SkippedReactions)
	assert.Empty(t, delta.AddedReactions)
	assert.Empty(t, cmp.Diff(bounds(once), bounds(twice)))
}

func TestAddReactionsSkipsExistingWithoutTouchingBounds(t *testing.T) {
	clash := domain.Reaction{ID: "rxn05573_c0", Metabolites: map[string]float64{"cpd00027_c0": -1}, LowerBound: -1000, UpperBound: 1000}
	out, delta := AddReactions(draftModel(), []domain.Reaction{clash}, nil)
	assert.Equal(t, []string{"rxn05573_c0"}, delta.SkippedReactions)
	assert.Equal(t, 0.0, bounds(out)["rxn05573_c0"])
}

func TestAddExchanges(t *testing.T) {
	specs := []ExchangeSpec{
		{CompoundID: "cpd10515", Name: "Fe2+"},
		{CompoundID: "cpd00027", Name: "D-Glucose"},
	}
	out, corr := AddExchanges(draftModel(), specs, "e0")
	require.NoError(t, out.Validate())
	assert.Equal(t, []string{"EX_cpd10515_e0"}, corr.ExchangesAdded)
	assert.Equal(t, []string{"EX_cpd00027_e0"}, corr.AlreadyPresent)
	assert.Equal(t, []string{"cpd10515_e0"}, corr.MetabolitesInserted)
	assert.Equal(t, 4, corr.OriginalReactions)
	assert.Equal(t, 5, corr.CorrectedReactions)

	fe, ok := out.Reaction("EX_cpd10515_e0")
	require.True(t, ok)
	assert.Equal(t, -100.0, fe.LowerBound)
	assert.Equal(t, 100.0, fe.UpperBound)
	assert.Equal(t, "Fe2+ exchange", fe.Name)

	again, corr2 := AddExchanges(out, specs, "e0")
	assert.Empty(t, corr2.ExchangesAdded)
	assert.Len(t, again.Reactions, 5)
}

func TestReactionString(t *testing.T) {
	cases := []struct {
		rxn  domain.Reaction
		want string
	}{
		{domain.Reaction{Metabolites: map[string]float64{"a": -1, "b": 2}, UpperBound: 1000}, "a --> 2 b"},
		{domain.Reaction{Metabolites: map[string]float64{"a": -1, "b": 1}, LowerBound: -10, UpperBound: 10}, "a <=> b"},
		{domain.Reaction{Metabolites: map[string]float64{"a": -0.5}, LowerBound: -10, UpperBound: 0}, "0.5 a <--"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ReactionString(tc.rxn))
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
