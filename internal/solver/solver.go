// Package solver defines the contracts of the external optimisation
// collaborators: the flux feasibility oracle and the minimal repair search.
// Implementations live elsewhere (see solver/exec); the orchestrator only
// depends on these interfaces.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxrepair/pkg/domain"
)

// Solution is the result of optimising a model's growth objective.
type Solution struct {
	ObjectiveValue float64             `json:"objective_value"`
	Status         domain.SolverStatus `json:"status"`
}

// Candidate is one minimal reaction set proposed by a repair search, in the
// order the search reported its reactions.
type Candidate struct {
	Reactions []string `json:"reactions"`
}

// Oracle optimises the growth objective of a model.
type Oracle interface {
	Optimize(ctx context.Context, m *domain.Model) (Solution, error)
}

// RepairSearch proposes reaction sets from bank that restore feasibility of
// m. An empty result means no repair exists. The bank must not be modified.
type RepairSearch interface {
	Gapfill(ctx context.Context, m *domain.Model, bank *domain.Bank) ([]Candidate, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, m *domain.Model) (Solution, error)

func (f OracleFunc) Optimize(ctx context.Context, m *domain.Model) (Solution, error) {
	return f(ctx, m)
}

// SearchFunc adapts a function to the RepairSearch interface.
type SearchFunc func(ctx context.Context, m *domain.Model, bank *domain.Bank) ([]Candidate, error)

func (f SearchFunc) Gapfill(ctx context.Context, m *domain.Model, bank *domain.Bank) ([]Candidate, error) {
	return f(ctx, m, bank)
}

// ErrTimeout reports a solver call that exceeded its time budget.
var ErrTimeout = errors.New("solver call timed out")

// PanicError carries a panic raised inside a solver call.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s panicked: %v", e.Op, e.Value) }

// NormalizeStatus maps a free-form solver status string onto SolverStatus.
func NormalizeStatus(s string) domain.SolverStatus {
	switch domain.SolverStatus(s) {
	case domain.StatusOptimal, "OPTIMAL", "Optimal":
		return domain.StatusOptimal
	case domain.StatusInfeasible, "INFEASIBLE", "Infeasible":
		return domain.StatusInfeasible
	}
	return domain.StatusOther
}

// WithTimeout bounds every Optimize call by d. A zero duration disables the bound.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return OracleFunc(func(ctx context.Context, m *domain.Model) (Solution, error) {
		return bounded(ctx, d, "optimize", func(ctx context.Context) (Solution, error) {
			return o.Optimize(ctx, m)
		})
	})
}

// SearchWithTimeout bounds every Gapfill call by d. A zero duration disables the bound.
func SearchWithTimeout(s RepairSearch, d time.Duration) RepairSearch {
	if d <= 0 {
		return s
	}
	return SearchFunc(func(ctx context.Context, m *domain.Model, bank *domain.Bank) ([]Candidate, error) {
		return bounded(ctx, d, "gapfill", func(ctx context.Context) ([]Candidate, error) {
			return s.Gapfill(ctx, m, bank)
		})
	})
}

// bounded runs call under a deadline. The call runs on its own goroutine so a
// collaborator that ignores ctx cannot stall the batch; its result is dropped
// once the deadline has passed.
func bounded[T any](ctx context.Context, d time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &PanicError{Op: op, Value: p}}
			}
		}()
		v, err := call(ctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.v, fmt.Errorf("%s: %w after %s: %v", op, ErrTimeout, d, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w after %s", op, ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}
