package core

import (
	"fluxrepair/internal/solver"
	"fluxrepair/pkg/domain"
)

// DefaultGrowthThreshold is the objective value a model must exceed to count as growing.
const DefaultGrowthThreshold = 0.001

// Classifier decides feasibility from an oracle solution.
type Classifier struct {
	Threshold float64
}

// NewClassifier returns a classifier for threshold; zero selects
// DefaultGrowthThreshold.
func NewClassifier(threshold float64) Classifier {
	if threshold == 0 {
		threshold = DefaultGrowthThreshold
	}
	return Classifier{Threshold: threshold}
}

// Feasible reports growth: the solve must be optimal and its objective must
// strictly exceed the threshold. An objective equal to the threshold is infeasible.
func (c Classifier) Feasible(sol solver.Solution) bool {
	return sol.Status == domain.StatusOptimal && sol.ObjectiveValue > c.Threshold
}

// Baseline maps a baseline solve onto its terminal classification. ok is
// false when the experiment continues to the repair stage.
func (c Classifier) Baseline(exp domain.Experiment, sol solver.Solution, repairEnabled bool) (cls domain.Classification, cat domain.ErrorCategory, ok bool) {
	if c.Feasible(sol) {
		if exp.RepairRequired {
			return domain.ClassError, domain.CategoryUnexpectedBaselineGrowth, true
		}
		return domain.ClassFeasibleBaseline, domain.CategoryNone, true
	}
	if !repairEnabled || !exp.RepairRequired {
		return domain.ClassRepairNotAttempted, domain.CategoryNone, true
	}
	return "", domain.CategoryNone, false
}

// Repaired classifies the re-evaluation of a repaired model.
func (c Classifier) Repaired(sol solver.Solution) (domain.Classification, domain.ErrorCategory) {
	if c.Feasible(sol) {
		return domain.ClassRepairSucceeded, domain.CategoryNone
	}
	return domain.ClassRepairFailedStillInfeasible, domain.CategoryRepairStillInfeasible
}
