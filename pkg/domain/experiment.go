package domain

import (
	"fmt"
	"strings"
	"time"
)

// Expectation is the work-list label describing what the experiment is expected to show.
type Expectation string

const (
	// ExpectFalseNegative marks an (organism, condition) pair observed to grow
	// while the draft model predicts no growth. Repair is required and a
	// feasible baseline is an anomaly.
	ExpectFalseNegative Expectation = "false_negative"
	// ExpectScreen marks a plain simulation pair with no assumption about the baseline.
	ExpectScreen Expectation = "screen"
)

// Experiment is one (organism, condition) pair with resolved document keys.
// It is consumed by exactly one pipeline pass and ends as one ledger row.
type Experiment struct {
	Index          int         `json:"index"`
	Organism       string      `json:"organism"`
	OrgID          string      `json:"org_id"`
	Condition      string      `json:"condition"`
	ModelKey       string      `json:"model_key"`
	MediumKey      string      `json:"medium_key"`
	Expectation    Expectation `json:"expectation"`
	RepairRequired bool        `json:"repair_required"`
	// Defect describes a work-list row that cannot be run as written. The
	// row is still processed so it ends as an error row.
	Defect string `json:"defect,omitempty"`
}

// Label renders a stable human-readable identifier for logs and error keys.
// Rows without any organism identifier fall back to their work-list position.
func (e Experiment) Label() string {
	org := e.OrgID
	if org == "" {
		org = e.Organism
	}
	if org == "" {
		return fmt.Sprintf("row %d/%s", e.Index+1, e.Condition)
	}
	return org + "/" + e.Condition
}

// SolverStatus is the optimisation status reported by a feasibility oracle.
type SolverStatus string

const (
	StatusOptimal    SolverStatus = "optimal"
	StatusInfeasible SolverStatus = "infeasible"
	StatusOther      SolverStatus = "other"
)

// Classification is the terminal state of an experiment.
type Classification string

const (
	ClassFeasibleBaseline            Classification = "FEASIBLE_BASELINE"
	ClassRepairNotAttempted          Classification = "REPAIR_NOT_ATTEMPTED"
	ClassRepairSucceeded             Classification = "REPAIR_SUCCEEDED"
	ClassRepairFailedNoSolution      Classification = "REPAIR_FAILED_NO_SOLUTION"
	ClassRepairFailedStillInfeasible Classification = "REPAIR_FAILED_STILL_INFEASIBLE"
	ClassError                       Classification = "ERROR"
)

// Classifications lists every terminal classification in report order.
var Classifications = []Classification{
	ClassFeasibleBaseline,
	ClassRepairSucceeded,
	ClassRepairFailedNoSolution,
	ClassRepairFailedStillInfeasible,
	ClassRepairNotAttempted,
	ClassError,
}

// ErrorCategory classifies why an experiment did not end in growth.
type ErrorCategory string

const (
	CategoryNone                     ErrorCategory = ""
	CategoryMissingInput             ErrorCategory = "MISSING_INPUT"
	CategoryLoadError                ErrorCategory = "LOAD_ERROR"
	CategoryMediumApplyError         ErrorCategory = "MEDIUM_APPLY_ERROR"
	CategoryUnexpectedBaselineGrowth ErrorCategory = "UNEXPECTED_BASELINE_GROWTH"
	CategoryRepairNoSolution         ErrorCategory = "REPAIR_FAILED_NO_SOLUTION"
	CategoryRepairStillInfeasible    ErrorCategory = "REPAIR_FAILED_STILL_INFEASIBLE"
	CategorySolverError              ErrorCategory = "SOLVER_ERROR"
)

// ErrorCategories lists every error category in report order.
var ErrorCategories = []ErrorCategory{
	CategoryMissingInput,
	CategoryLoadError,
	CategoryMediumApplyError,
	CategoryUnexpectedBaselineGrowth,
	CategoryRepairNoSolution,
	CategoryRepairStillInfeasible,
	CategorySolverError,
}

// AddedReaction records the provenance details of one reaction added by a repair.
type AddedReaction struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Formula   string `json:"formula,omitempty"`
	Subsystem string `json:"subsystem,omitempty"`
}

// Outcome is one ledger row. Rows are append-only and never mutated once recorded.
type Outcome struct {
	RunID            string          `json:"run_id"`
	Index            int             `json:"index"`
	Organism         string          `json:"organism"`
	OrgID            string          `json:"org_id"`
	Condition        string          `json:"condition"`
	ModelKey         string          `json:"model_key,omitempty"`
	MediumKey        string          `json:"medium_key,omitempty"`
	PreRepairFlux    float64         `json:"pre_repair_flux"`
	PreRepairStatus  SolverStatus    `json:"pre_repair_status,omitempty"`
	RepairAttempted  bool            `json:"repair_attempted"`
	PostRepairFlux   float64         `json:"post_repair_flux"`
	Classification   Classification  `json:"classification"`
	ReactionsAdded   []string        `json:"reactions_added"`
	AddedDetails     []AddedReaction `json:"added_details,omitempty"`
	CandidateCount   int             `json:"candidate_count"`
	RepairedModelKey string          `json:"repaired_model_key,omitempty"`
	ErrorCategory    ErrorCategory   `json:"error_category,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	DurationMS       float64         `json:"duration_ms"`
	RecordedAt       time.Time       `json:"recorded_at"`
}

// NumReactionsAdded returns the size of the applied repair set.
func (o Outcome) NumReactionsAdded() int { return len(o.ReactionsAdded) }

// ReactionsAddedString renders the applied repair set as a ';'-joined list.
func (o Outcome) ReactionsAddedString() string { return strings.Join(o.ReactionsAdded, ";") }

// Grew reports whether the row ended with a feasible model.
func (o Outcome) Grew() bool {
	return o.Classification == ClassFeasibleBaseline || o.Classification == ClassRepairSucceeded
}

// Clone returns a copy that shares no slices with o.
func (o Outcome) Clone() Outcome {
	o.ReactionsAdded = append([]string(nil), o.ReactionsAdded...)
	if o.AddedDetails != nil {
		o.AddedDetails = append([]AddedReaction(nil), o.AddedDetails...)
	}
	return o
}
