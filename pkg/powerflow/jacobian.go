package powerflow

import (
	"github.com/edp1096/toy-pflow/pkg/matrix"
	"github.com/edp1096/toy-pflow/pkg/network"
)

type entry struct {
	col int
	val float64
}

// jacobian holds d(residual)/d(unknown) row by row.
//
// Rows are grouped [Ir_PQ | Ii_PQ | Ir_PV | Ii_PV]. Columns are grouped
// [Vr_PQ | Vi_PQ | Vr_PV | Vi_PV | Q_PV]; the Vr_PV columns exist only until the PV
// magnitude constraint folds them into Vi_PV.
type jacobian struct {
	nPQ, nPV int

	constant [][]entry // -G and B terms, fixed for a given Y
	rows     [][]entry

	vrPVRows [][]int // rows holding an entry in Vr_PV(k)

	sysRow []int // grouped row -> linear system row
	sysCol []int // grouped column -> linear system column, -1 for Vr_PV
}

func newJacobian(y *matrix.Admittance, layout network.Layout) *jacobian {
	nSL, nPQ, nPV := len(layout.SL), len(layout.PQ), len(layout.PV)
	j := &jacobian{nPQ: nPQ, nPV: nPV}

	nRow := 2*nPQ + 2*nPV
	nCol := 2*nPQ + 3*nPV
	j.constant = make([][]entry, nRow)
	j.rows = make([][]entry, nRow)

	// global node index -> grouped rows and columns, -1 for slack nodes
	size := y.Size
	rowR, rowI := make([]int, size), make([]int, size)
	colR, colI := make([]int, size), make([]int, size)
	for g := 0; g < nSL; g++ {
		rowR[g], rowI[g], colR[g], colI[g] = -1, -1, -1, -1
	}
	for k, g := range layout.PQ {
		rowR[g], rowI[g] = j.rIrPQ(k), j.rIiPQ(k)
		colR[g], colI[g] = j.cVrPQ(k), j.cViPQ(k)
	}
	for k, g := range layout.PV {
		rowR[g], rowI[g] = j.rIrPV(k), j.rIiPV(k)
		colR[g], colI[g] = j.cVrPV(k), j.cViPV(k)
	}

	j.vrPVRows = make([][]int, nPV)
	for _, group := range [][]int{layout.PQ, layout.PV} {
		for _, g := range group {
			for _, e := range y.Row(g) {
				if colR[e.Col] < 0 {
					continue
				}
				gv, bv := real(e.Value), imag(e.Value)
				j.constant[rowR[g]] = addEntry(j.constant[rowR[g]], colR[e.Col], -gv)
				j.constant[rowR[g]] = addEntry(j.constant[rowR[g]], colI[e.Col], bv)
				j.constant[rowI[g]] = addEntry(j.constant[rowI[g]], colR[e.Col], -bv)
				j.constant[rowI[g]] = addEntry(j.constant[rowI[g]], colI[e.Col], -gv)

				if k := colR[e.Col] - 2*nPQ; k >= 0 && k < nPV {
					j.vrPVRows[k] = append(j.vrPVRows[k], rowR[g], rowI[g])
				}
			}
		}
	}
	for k := 0; k < nPV; k++ {
		j.vrPVRows[k] = appendUnique(j.vrPVRows[k], j.rIrPV(k), j.rIiPV(k))
	}

	j.sysRow = make([]int, nRow)
	j.sysCol = make([]int, nCol)
	base := 2 * nPQ
	for k := 0; k < nPQ; k++ {
		j.sysRow[j.rIiPQ(k)] = 2 * k
		j.sysRow[j.rIrPQ(k)] = 2*k + 1
		j.sysCol[j.cVrPQ(k)] = 2 * k
		j.sysCol[j.cViPQ(k)] = 2*k + 1
	}
	for k := 0; k < nPV; k++ {
		j.sysRow[j.rIiPV(k)] = base + 2*k
		j.sysRow[j.rIrPV(k)] = base + 2*k + 1
		j.sysCol[j.cQPV(k)] = base + 2*k
		j.sysCol[j.cViPV(k)] = base + 2*k + 1
		j.sysCol[j.cVrPV(k)] = -1
	}

	return j
}

func (j *jacobian) rIrPQ(k int) int { return k }
func (j *jacobian) rIiPQ(k int) int { return j.nPQ + k }
func (j *jacobian) rIrPV(k int) int { return 2*j.nPQ + k }
func (j *jacobian) rIiPV(k int) int { return 2*j.nPQ + j.nPV + k }

func (j *jacobian) cVrPQ(k int) int { return k }
func (j *jacobian) cViPQ(k int) int { return j.nPQ + k }
func (j *jacobian) cVrPV(k int) int { return 2*j.nPQ + k }
func (j *jacobian) cViPV(k int) int { return 2*j.nPQ + j.nPV + k }
func (j *jacobian) cQPV(k int) int  { return 2*j.nPQ + 2*j.nPV + k }

// size of the reduced system
func (j *jacobian) size() int { return 2*j.nPQ + 2*j.nPV }

func (j *jacobian) reset() {
	for r := range j.rows {
		j.rows[r] = append(j.rows[r][:0], j.constant[r]...)
	}
}

func (j *jacobian) add(r, c int, v float64) {
	if v == 0 {
		return
	}
	j.rows[r] = addEntry(j.rows[r], c, v)
}

func (j *jacobian) get(r, c int) (float64, bool) {
	for _, e := range j.rows[r] {
		if e.col == c {
			return e.val, true
		}
	}
	return 0, false
}

// stamp writes the reduced Jacobian into a in linear system order.
func (j *jacobian) stamp(a *matrix.Triplet) {
	a.Reset()
	for r, row := range j.rows {
		sr := j.sysRow[r]
		for _, e := range row {
			if sc := j.sysCol[e.col]; sc >= 0 {
				a.Add(sr, sc, e.val)
			}
		}
	}
}

func addEntry(row []entry, c int, v float64) []entry {
	for i := range row {
		if row[i].col == c {
			row[i].val += v
			return row
		}
	}
	return append(row, entry{col: c, val: v})
}

func appendUnique(list []int, vals ...int) []int {
	for _, v := range vals {
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
