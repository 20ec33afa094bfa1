package matrix

import (
	"fmt"
	"io"
	"math/cmplx"
	"sort"

	"github.com/edp1096/sparse"
)

// ComplexEntry is one stored element of a row of the admittance matrix.
type ComplexEntry struct {
	Col   int
	Value complex128
}

// Admittance is the nodal admittance matrix Y = G + jB.
//
// Elements are stamped into a complex sparse matrix, then Compile walks its column
// lists once and keeps explicit per-row entry lists for the block loops of the solver.
type Admittance struct {
	Size     int
	matrix   *sparse.Matrix
	rows     [][]ComplexEntry
	compiled bool
}

func NewAdmittance(size int) (*Admittance, error) {
	if size <= 0 {
		return nil, fmt.Errorf("admittance size %d: %w", size, ErrDimension)
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 true,
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
		return nil, fmt.Errorf("creating admittance matrix: %v", err)
	}

	return &Admittance{Size: size, matrix: m}, nil
}

// AddComplexElement adds value into Y(i, j). Stamps after Compile or outside the matrix are ignored.
func (y *Admittance) AddComplexElement(i, j int, value complex128) {
	if y.compiled || i < 0 || j < 0 || i >= y.Size || j >= y.Size {
		return
	}
	element := y.matrix.GetElement(int64(i+1), int64(j+1)) // 1-based indexing
	element.Real += real(value)
	element.Imag += imag(value)
}

// Compile freezes the matrix and builds the row lists. The underlying sparse matrix is released.
func (y *Admittance) Compile() {
	if y.compiled {
		return
	}

	y.rows = make([][]ComplexEntry, y.Size)
	for col := 1; col <= y.Size; col++ {
		for element := y.matrix.FirstInCol[col]; element != nil; element = element.NextInCol {
			row := int(element.Row) - 1
			y.rows[row] = append(y.rows[row], ComplexEntry{
				Col:   col - 1,
				Value: complex(element.Real, element.Imag),
			})
		}
	}

	y.matrix.Destroy()
	y.matrix = nil
	y.compiled = true
}

// Row returns the stored entries of row i, sorted by column.
func (y *Admittance) Row(i int) []ComplexEntry {
	if !y.compiled || i < 0 || i >= y.Size {
		return nil
	}
	return y.rows[i]
}

func (y *Admittance) At(i, j int) complex128 {
	row := y.Row(i)
	k := sort.Search(len(row), func(k int) bool { return row[k].Col >= j })
	if k < len(row) && row[k].Col == j {
		return row[k].Value
	}
	return 0
}

// NonZeros counts stored entries, including explicit zeros produced by cancelling stamps.
func (y *Admittance) NonZeros() int {
	n := 0
	for _, row := range y.rows {
		n += len(row)
	}
	return n
}

// RowDot returns sum_k Y(i, k) v[k].
func (y *Admittance) RowDot(i int, v []complex128) complex128 {
	var sum complex128
	for _, e := range y.Row(i) {
		sum += e.Value * v[e.Col]
	}
	return sum
}

func (y *Admittance) Print(w io.Writer) {
	fmt.Fprintf(w, "Y (%dx%d, nnz=%d):\n", y.Size, y.Size, y.NonZeros())
	for i := 0; i < y.Size; i++ {
		for _, e := range y.Row(i) {
			fmt.Fprintf(w, "  (%d,%d) %.6g%+.6gj |%.6g|\n", i, e.Col, real(e.Value), imag(e.Value), cmplx.Abs(e.Value))
		}
	}
}

func (y *Admittance) Destroy() {
	if y.matrix != nil {
		y.matrix.Destroy()
		y.matrix = nil
	}
	y.rows = nil
}
