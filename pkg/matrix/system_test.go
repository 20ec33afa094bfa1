package matrix

import (
	"errors"
	"math"
	"testing"
)

func buildSystem() (*Triplet, []float64, []float64) {
	// 4x4 diagonally dominant system with duplicate stamps.
	a := NewTriplet(4)
	a.Add(0, 0, 2)
	a.Add(0, 0, 2)
	a.Add(0, 1, -1)
	a.Add(1, 0, -1)
	a.Add(1, 1, 4)
	a.Add(1, 2, -1)
	a.Add(2, 1, -1)
	a.Add(2, 2, 4)
	a.Add(2, 3, -1)
	a.Add(3, 2, -1)
	a.Add(3, 3, 4)

	want := []float64{1, -2, 0.5, 3}
	b, _ := a.MulVec(want)
	return a, b, want
}

func TestSolversAgree(t *testing.T) {
	a, b, want := buildSystem()

	for name, solver := range map[string]LinearSolver{
		"sparse": NewSparseSolver(),
		"dense":  NewDenseSolver(),
	} {
		x, err := solver.Solve(a, b)
		if err != nil {
			t.Fatalf("%s: solve failed: %v", name, err)
		}
		for i := range want {
			if math.Abs(x[i]-want[i]) > 1e-12 {
				t.Errorf("%s: x[%d] = %v, want %v", name, i, x[i], want[i])
			}
		}
	}
}

func TestSolverRepeatedCalls(t *testing.T) {
	a, b, want := buildSystem()
	solver := NewSparseSolver()

	for k := 0; k < 3; k++ {
		x, err := solver.Solve(a, b)
		if err != nil {
			t.Fatalf("call %d: %v", k, err)
		}
		if math.Abs(x[3]-want[3]) > 1e-12 {
			t.Errorf("call %d: x[3] = %v, want %v", k, x[3], want[3])
		}
	}
}

func TestSingularSystem(t *testing.T) {
	a := NewTriplet(2)
	a.Add(0, 0, 1)
	a.Add(0, 1, 1)
	a.Add(1, 0, 1)
	a.Add(1, 1, 1)

	for name, solver := range map[string]LinearSolver{
		"sparse": NewSparseSolver(),
		"dense":  NewDenseSolver(),
	} {
		if _, err := solver.Solve(a, []float64{1, 2}); !errors.Is(err, ErrSingular) {
			t.Errorf("%s: expected ErrSingular, got %v", name, err)
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	a, _, _ := buildSystem()
	if _, err := NewDenseSolver().Solve(a, []float64{1, 2}); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}

	bad := NewTriplet(2)
	bad.Add(0, 5, 1)
	if _, err := NewSparseSolver().Solve(bad, []float64{1, 2}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestTripletReset(t *testing.T) {
	a, _, _ := buildSystem()
	a.Reset()
	if a.Len() != 0 || a.Size() != 4 {
		t.Fatalf("after reset: len %d size %d", a.Len(), a.Size())
	}
	a.Add(2, 2, 0)
	if a.Len() != 0 {
		t.Errorf("zero stamp was stored")
	}
}
