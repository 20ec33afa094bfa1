package matrix

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/sparse"
	"gonum.org/v1/gonum/mat"
)

// LinearSolver solves A x = b for a square real sparse A.
type LinearSolver interface {
	Solve(a *Triplet, b []float64) ([]float64, error)
}

// SparseSolver factors with Markowitz pivoting on every call. A fresh matrix is
// built each time because the pivot order chosen by the first factorization is
// not valid once the Jacobian values change.
type SparseSolver struct {
	RelThreshold float64
}

func NewSparseSolver() *SparseSolver {
	return &SparseSolver{}
}

func (s *SparseSolver) Solve(a *Triplet, b []float64) ([]float64, error) {
	if err := a.validate(b); err != nil {
		return nil, err
	}
	size := a.Size()
	if size == 0 {
		return []float64{}, nil
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           false,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	m, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}
	defer m.Destroy()

	if s.RelThreshold > 0 {
		m.RelThreshold = s.RelThreshold
	}

	a.Each(func(i, j int, value float64) {
		m.GetElement(int64(i+1), int64(j+1)).Real += value
	})

	rhs := make([]float64, size+1) // 1-based indexing
	copy(rhs[1:], b)

	if err = m.Factor(); err != nil {
		return nil, fmt.Errorf("matrix factorization failed: %v: %w", err, ErrSingular)
	}

	solution, err := m.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %v: %w", err, ErrSingular)
	}

	x := solution[1 : size+1]
	if !finite(x) {
		return nil, fmt.Errorf("non-finite solution: %w", ErrSingular)
	}
	return x, nil
}

// DenseSolver uses gonum's LU decomposition. Suited to small systems and as a
// reference for the sparse backend.
type DenseSolver struct{}

func NewDenseSolver() *DenseSolver {
	return &DenseSolver{}
}

func (s *DenseSolver) Solve(a *Triplet, b []float64) ([]float64, error) {
	if err := a.validate(b); err != nil {
		return nil, err
	}
	size := a.Size()
	if size == 0 {
		return []float64{}, nil
	}

	var lu mat.LU
	lu.Factorize(a.Dense())

	x := mat.NewVecDense(size, nil)
	err := lu.SolveVecTo(x, false, mat.NewVecDense(size, append([]float64(nil), b...)))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("lu solve failed: %v: %w", err, ErrSingular)
		}
	}

	out := make([]float64, size)
	copy(out, x.RawVector().Data)
	if !finite(out) {
		return nil, fmt.Errorf("non-finite solution: %w", ErrSingular)
	}
	return out, nil
}
