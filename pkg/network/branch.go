package network

import (
	"fmt"
	"math/cmplx"
)

// Branch joins Ids[0] on Phases[0] to Ids[1] on Phases[1]. Y is the 2n x 2n primitive
// admittance with the terminals of the first bus ahead of those of the second.
type Branch struct {
	Ids    [2]string
	Phases [2]Phases
	Y      [][]complex128
}

func (br *Branch) NPhase() int { return br.Phases[0].Len() }

func (br *Branch) String() string {
	return fmt.Sprintf("%s(%s) - %s(%s)", br.Ids[0], br.Phases[0], br.Ids[1], br.Phases[1])
}

func (br *Branch) check() error {
	n := br.Phases[0].Len()
	if n == 0 || br.Phases[1].Len() != n {
		return fmt.Errorf("branch %s: phase counts %d and %d: %w", br, n, br.Phases[1].Len(), ErrInvalidTopology)
	}
	if len(br.Y) != 2*n {
		return fmt.Errorf("branch %s: primitive has %d rows, want %d: %w", br, len(br.Y), 2*n, ErrInvalidTopology)
	}
	for i, row := range br.Y {
		if len(row) != 2*n {
			return fmt.Errorf("branch %s: primitive row %d has %d entries, want %d: %w", br, i, len(row), 2*n, ErrInvalidTopology)
		}
		for _, v := range row {
			if cmplx.IsNaN(v) || cmplx.IsInf(v) {
				return fmt.Errorf("branch %s: non-finite admittance: %w", br, ErrInvalidTopology)
			}
		}
	}
	return nil
}

// terminal maps a local terminal index to (bus side, phase).
func (br *Branch) terminal(i int) (int, Phase) {
	n := br.NPhase()
	side := i / n
	return side, br.Phases[side].At(i % n)
}
