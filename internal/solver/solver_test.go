package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrepair/pkg/domain"
)

func TestWithTimeoutPassesThrough(t *testing.T) {
	var sawDeadline bool
	o := WithTimeout(OracleFunc(func(ctx context.Context, m *domain.Model) (Solution, error) {
		_, sawDeadline = ctx.Deadline()
		return Solution{ObjectiveValue: 0.2, Status: domain.StatusOptimal}, nil
	}), time.Second)
	sol, err := o.Optimize(context.Background(), &domain.Model{ID: "m"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, sol.ObjectiveValue)
	assert.True(t, sawDeadline, "call must see a deadline")
}

func TestWithTimeoutExpires(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := WithTimeout(OracleFunc(func(ctx context.Context, m *domain.Model) (Solution, error) {
		<-release // ignores ctx on purpose
		return Solution{}, nil
	}), 20*time.Millisecond)
	_, err := o.Optimize(context.Background(), &domain.Model{ID: "m"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSearchWithTimeoutRecoversPanics(t *testing.T) {
	s := SearchWithTimeout(SearchFunc(func(ctx context.Context, m *domain.Model, b *domain.Bank) ([]Candidate, error) {
		panic("index out of range")
	}), time.Second)
	_, err := s.Gapfill(context.Background(), &domain.Model{}, domain.NewBank(nil))
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "gapfill", pe.Op)
}

func TestZeroTimeoutIsIdentity(t *testing.T) {
	var o Oracle = OracleFunc(func(context.Context, *domain.Model) (Solution, error) { return Solution{}, nil })
	assert.NotNil(t, WithTimeout(o, 0))
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, domain.StatusOptimal, NormalizeStatus("optimal"))
	assert.Equal(t, domain.StatusOptimal, NormalizeStatus("OPTIMAL"))
	assert.Equal(t, domain.StatusInfeasible, NormalizeStatus("infeasible"))
	assert.Equal(t, domain.StatusOther, NormalizeStatus("unbounded"))
}
