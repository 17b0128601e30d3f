package core

import (
	"errors"
	"fmt"

	"fluxrepair/internal/network"
	"fluxrepair/pkg/domain"
)

// ExperimentError carries the error category of a failed pipeline stage.
type ExperimentError struct {
	Category domain.ErrorCategory
	Err      error
}

func (e *ExperimentError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *ExperimentError) Unwrap() error { return e.Err }

func categorize(cat domain.ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &ExperimentError{Category: cat, Err: err}
}

func categorizef(cat domain.ErrorCategory, format string, args ...any) error {
	return &ExperimentError{Category: cat, Err: fmt.Errorf(format, args...)}
}

// classifyError maps any error raised while processing an experiment onto an
// error category. Stage-tagged errors keep their category; untagged errors
// are inferred from their type; anything else, timeouts and recovered panics
// included, is a solver failure.
func classifyError(err error) domain.ErrorCategory {
	var ee *ExperimentError
	if errors.As(err, &ee) && ee.Category != domain.CategoryNone {
		return ee.Category
	}
	var parseErr *domain.ParseError
	var mediumErr *network.MediumError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.CategoryMissingInput
	case errors.As(err, &parseErr):
		return domain.CategoryLoadError
	case errors.As(err, &mediumErr):
		return domain.CategoryMediumApplyError
	}
	return domain.CategorySolverError
}
