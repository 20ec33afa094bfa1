package matrix

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Triplet is a square real sparse matrix in coordinate form. Duplicate (i, j)
// entries are summed by every consumer. Reset keeps the backing storage so one
// Triplet can be refilled every Newton iteration.
type Triplet struct {
	n    int
	rows []int
	cols []int
	vals []float64
}

func NewTriplet(n int) *Triplet {
	return &Triplet{n: n}
}

func (t *Triplet) Size() int { return t.n }

func (t *Triplet) Len() int { return len(t.vals) }

func (t *Triplet) Add(i, j int, value float64) {
	if value == 0 {
		return
	}
	t.rows = append(t.rows, i)
	t.cols = append(t.cols, j)
	t.vals = append(t.vals, value)
}

func (t *Triplet) Reset() {
	t.rows = t.rows[:0]
	t.cols = t.cols[:0]
	t.vals = t.vals[:0]
}

func (t *Triplet) Each(fn func(i, j int, value float64)) {
	for k := range t.vals {
		fn(t.rows[k], t.cols[k], t.vals[k])
	}
}

// Dense materialises the matrix, summing duplicates.
func (t *Triplet) Dense() *mat.Dense {
	d := mat.NewDense(t.n, t.n, nil)
	t.Each(func(i, j int, value float64) {
		d.Set(i, j, d.At(i, j)+value)
	})
	return d
}

// MulVec returns A x.
func (t *Triplet) MulVec(x []float64) ([]float64, error) {
	if len(x) != t.n {
		return nil, fmt.Errorf("mulvec %d != %d: %w", len(x), t.n, ErrDimension)
	}
	y := make([]float64, t.n)
	t.Each(func(i, j int, value float64) {
		y[i] += value * x[j]
	})
	return y, nil
}

func (t *Triplet) validate(b []float64) error {
	if len(b) != t.n {
		return fmt.Errorf("rhs length %d, matrix size %d: %w", len(b), t.n, ErrDimension)
	}
	for k := range t.vals {
		if t.rows[k] < 0 || t.rows[k] >= t.n || t.cols[k] < 0 || t.cols[k] >= t.n {
			return fmt.Errorf("entry (%d,%d) in %dx%d: %w", t.rows[k], t.cols[k], t.n, t.n, ErrOutOfRange)
		}
	}
	return nil
}

func (t *Triplet) Print(w io.Writer) {
	d := t.Dense()
	fmt.Fprintf(w, "\nSystem (%dx%d, %d stamps):\n", t.n, t.n, t.Len())
	fmt.Fprintf(w, "%4s", "")
	for j := 0; j < t.n; j++ {
		fmt.Fprintf(w, "%11d", j)
	}
	fmt.Fprintln(w)
	for i := 0; i < t.n; i++ {
		fmt.Fprintf(w, "%4d", i)
		for j := 0; j < t.n; j++ {
			fmt.Fprintf(w, "%11.4g", d.At(i, j))
		}
		fmt.Fprintln(w)
	}
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
