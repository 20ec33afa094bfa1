package network

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/toy-pflow/internal/consts"
	"github.com/edp1096/toy-pflow/pkg/matrix"
	"gonum.org/v1/gonum/mat"
)

// YLine1P is the primitive of a single series admittance between two terminals.
func YLine1P(y complex128) [][]complex128 {
	return [][]complex128{
		{y, -y},
		{-y, y},
	}
}

// YSimpleLine is the primitive of n uncoupled series admittances.
func YSimpleLine(y []complex128) [][]complex128 {
	n := len(y)
	out := newComplexMatrix(2 * n)
	for i, yi := range y {
		out[i][i] = yi
		out[n+i][n+i] = yi
		out[i][n+i] = -yi
		out[n+i][i] = -yi
	}
	return out
}

// ZLine2YNode inverts an n x n series impedance and expands it to the 2n x 2n nodal primitive.
func ZLine2YNode(z [][]complex128) ([][]complex128, error) {
	yLine, err := invert(z)
	if err != nil {
		return nil, err
	}

	n := len(z)
	out := newComplexMatrix(2 * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i][j] = yLine[i][j]
			out[i][j+n] = -yLine[i][j]
			out[i+n][j] = -yLine[i][j]
			out[i+n][j+n] = yLine[i][j]
		}
	}
	return out, nil
}

// Carson returns the primitive series impedance of nWire conductors of length L (m) with earth return.
// d holds conductor spacings in metres with the geometric mean radius on the diagonal,
// resPerL the conductor resistances in ohm/m.
func Carson(nWire int, d [][]float64, resPerL []float64, L, freq, rhoEarth float64) ([][]complex128, error) {
	if len(d) != nWire || len(resPerL) != nWire {
		return nil, fmt.Errorf("carson: %d wires, %d spacing rows, %d resistances: %w", nWire, len(d), len(resPerL), matrix.ErrDimension)
	}
	if freq <= 0 {
		freq = consts.DefaultSystemFreq
	}
	if rhoEarth <= 0 {
		rhoEarth = consts.DefaultEarthRho
	}

	re := consts.CarsonRealCoeff * freq
	im := consts.CarsonImagCoeff * freq
	additive := 0.5*math.Log(rhoEarth/freq) + consts.CarsonAdditive

	z := newComplexMatrix(nWire)
	for i := 0; i < nWire; i++ {
		if len(d[i]) != nWire {
			return nil, fmt.Errorf("carson: spacing row %d: %w", i, matrix.ErrDimension)
		}
		z[i][i] = complex((resPerL[i]+re)*L, im*(math.Log(1/d[i][i])+additive)*L)
		for k := i + 1; k < nWire; k++ {
			z[i][k] = complex(re*L, im*(math.Log(1/d[i][k])+additive)*L)
			z[k][i] = z[i][k]
		}
	}
	return z, nil
}

// Kron eliminates the conductors after the first nPhase, e.g. a grounded neutral.
func Kron(z [][]complex128, nPhase int) ([][]complex128, error) {
	n := len(z)
	if nPhase <= 0 || nPhase > n {
		return nil, fmt.Errorf("kron: %d phases of %d conductors: %w", nPhase, n, matrix.ErrDimension)
	}
	if nPhase == n {
		return cloneComplexMatrix(z), nil
	}

	nn := n - nPhase
	znn := newComplexMatrix(nn)
	for i := 0; i < nn; i++ {
		for k := 0; k < nn; k++ {
			znn[i][k] = z[nPhase+i][nPhase+k]
		}
	}
	znnInv, err := invert(znn)
	if err != nil {
		return nil, err
	}

	out := newComplexMatrix(nPhase)
	for i := 0; i < nPhase; i++ {
		for k := 0; k < nPhase; k++ {
			var sum complex128
			for a := 0; a < nn; a++ {
				for b := 0; b < nn; b++ {
					sum += z[i][nPhase+a] * znnInv[a][b] * z[nPhase+b][k]
				}
			}
			out[i][k] = z[i][k] - sum
		}
	}
	return out, nil
}

// invert uses the real embedding [[R, -X], [X, R]] whose inverse is [[A, -B], [B, A]] with (R+jX)^-1 = A+jB.
func invert(z [][]complex128) ([][]complex128, error) {
	n := len(z)
	if n == 0 {
		return nil, fmt.Errorf("invert empty matrix: %w", matrix.ErrDimension)
	}

	embed := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		if len(z[i]) != n {
			return nil, fmt.Errorf("invert: row %d has %d entries: %w", i, len(z[i]), matrix.ErrDimension)
		}
		for k := 0; k < n; k++ {
			r, x := real(z[i][k]), imag(z[i][k])
			embed.Set(i, k, r)
			embed.Set(i, n+k, -x)
			embed.Set(n+i, k, x)
			embed.Set(n+i, n+k, r)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(embed); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("invert: %v: %w", err, matrix.ErrSingular)
		}
	}

	out := newComplexMatrix(n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			out[i][k] = complex(inv.At(i, k), inv.At(n+i, k))
		}
	}
	return out, nil
}

func newComplexMatrix(n int) [][]complex128 {
	out := make([][]complex128, n)
	for i := range out {
		out[i] = make([]complex128, n)
	}
	return out
}

func cloneComplexMatrix(z [][]complex128) [][]complex128 {
	out := make([][]complex128, len(z))
	for i := range z {
		out[i] = append([]complex128(nil), z[i]...)
	}
	return out
}
