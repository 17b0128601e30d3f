package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"fluxrepair/internal/network"
	"fluxrepair/internal/solver"
	"fluxrepair/pkg/domain"
)

func TestClassifierThresholdIsStrict(t *testing.T) {
	c := NewClassifier(0)
	assert.Equal(t, DefaultGrowthThreshold, c.Threshold)
	cases := []struct {
		name string
		sol  solver.Solution
		want bool
	}{
		{"above", solver.Solution{ObjectiveValue: 0.0011, Status: domain.StatusOptimal}, true},
		{"equal", solver.Solution{ObjectiveValue: 0.001, Status: domain.StatusOptimal}, false},
		{"below", solver.Solution{ObjectiveValue: 0.0005, Status: domain.StatusOptimal}, false},
		{"not optimal", solver.Solution{ObjectiveValue: 5, Status: domain.StatusOther}, false},
		{"infeasible", solver.Solution{Status: domain.StatusInfeasible}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Feasible(tc.sol))
		})
	}
	assert.False(t, NewClassifier(0.1).Feasible(solver.Solution{ObjectiveValue: 0.05, Status: domain.StatusOptimal}))
}

func TestClassifierBaseline(t *testing.T) {
	c := NewClassifier(0)
	grows := solver.Solution{ObjectiveValue: 1, Status: domain.StatusOptimal}
	dead := solver.Solution{Status: domain.StatusInfeasible}
	fn := domain.Experiment{RepairRequired: true}
	screen := domain.Experiment{}

	cls, cat, done := c.Baseline(fn, grows, true)
	assert.True(t, done)
	assert.Equal(t, domain.ClassError, cls)
	assert.Equal(t, domain.CategoryUnexpectedBaselineGrowth, cat)

	cls, _, done = c.Baseline(screen, grows, true)
	assert.True(t, done)
	assert.Equal(t, domain.ClassFeasibleBaseline, cls)

	_, _, done = c.Baseline(fn, dead, true)
	assert.False(t, done)

	cls, _, done = c.Baseline(fn, dead, false)
	assert.True(t, done)
	assert.Equal(t, domain.ClassRepairNotAttempted, cls)

	cls, cat = c.Repaired(dead)
	assert.Equal(t, domain.ClassRepairFailedStillInfeasible, cls)
	assert.Equal(t, domain.CategoryRepairStillInfeasible, cat)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"tagged", categorize(domain.CategoryMediumApplyError, errors.New("x")), domain.CategoryMediumApplyError},
		{"not found", domain.NotFoundError("model", "m.json"), domain.CategoryMissingInput},
		{"parse", fmt.Errorf("wrap: %w", &domain.ParseError{Kind: "model", Key: "k", Err: errors.New("bad")}), domain.CategoryLoadError},
		{"medium", &network.MediumError{Exchanges: []string{"EX_a"}}, domain.CategoryMediumApplyError},
		{"timeout", fmt.Errorf("optimize: %w", solver.ErrTimeout), domain.CategorySolverError},
		{"deadline", context.DeadlineExceeded, domain.CategorySolverError},
		{"panic", &solver.PanicError{Op: "gapfill", Value: "boom"}, domain.CategorySolverError},
		{"other", errors.New("unknown"), domain.CategorySolverError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyError(tc.err))
		})
	}
	assert.Nil(t, categorize(domain.CategoryLoadError, nil))
	assert.Equal(t, "boom", (&ExperimentError{Category: domain.CategoryLoadError, Err: errors.New("boom")}).Error())
	assert.Equal(t, "LOAD_ERROR", (&ExperimentError{Category: domain.CategoryLoadError}).Error())
}
