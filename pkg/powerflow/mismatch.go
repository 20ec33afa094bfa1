package powerflow

import (
	"math"

	"github.com/edp1096/toy-pflow/internal/consts"
)

// calcMismatch fills f with the current mismatch at (vr, vi) and returns its infinity norm.
//
//	f_Ir = (Vr P + Vi Q)/M2 + Icr - Re(Y V)
//	f_Ii = (Vi P - Vr Q)/M2 + Ici - Im(Y V)
//
// M2 is |V|^2 for PQ nodes and the fixed set-point for PV nodes.
func (nr *NR) calcMismatch() float64 {
	for i := range nr.v {
		nr.v[i] = complex(nr.vr[i], nr.vi[i])
	}

	nPQ, nPV := len(nr.layout.PQ), len(nr.layout.PV)
	for k, g := range nr.layout.PQ {
		m2 := max(nr.vr[g]*nr.vr[g]+nr.vi[g]*nr.vi[g], consts.MinVoltageSquared)
		nr.f[k], nr.f[nPQ+k] = nr.nodeMismatch(g, m2)
	}
	for k, g := range nr.layout.PV {
		nr.f[2*nPQ+k], nr.f[2*nPQ+nPV+k] = nr.nodeMismatch(g, nr.m2PV[k])
	}

	return infNorm(nr.f)
}

func (nr *NR) nodeMismatch(g int, m2 float64) (float64, float64) {
	vr, vi, p, q := nr.vr[g], nr.vi[g], nr.p[g], nr.q[g]
	yv := nr.y.RowDot(g, nr.v)
	fr := (vr*p+vi*q)/m2 + nr.icr[g] - real(yv)
	fi := (vi*p-vr*q)/m2 + nr.ici[g] - imag(yv)
	return fr, fi
}

// updateJ adds the voltage dependent terms of the power to current conversion.
func (nr *NR) updateJ() {
	j := nr.jac
	j.reset()

	for k, g := range nr.layout.PQ {
		vr, vi, p, q := nr.vr[g], nr.vi[g], nr.p[g], nr.q[g]
		m2 := max(vr*vr+vi*vi, consts.MinVoltageSquared)
		m4 := m2 * m2
		pvrQvi := p*vr + q*vi
		pviQvr := p*vi - q*vr

		j.add(j.rIrPQ(k), j.cVrPQ(k), p/m2-2*vr*pvrQvi/m4)
		j.add(j.rIrPQ(k), j.cViPQ(k), q/m2-2*vi*pvrQvi/m4)
		j.add(j.rIiPQ(k), j.cVrPQ(k), -q/m2-2*vr*pviQvr/m4)
		j.add(j.rIiPQ(k), j.cViPQ(k), p/m2-2*vi*pviQvr/m4)
	}

	for k, g := range nr.layout.PV {
		vr, vi, p, q := nr.vr[g], nr.vi[g], nr.p[g], nr.q[g]
		m2 := nr.m2PV[k]

		j.add(j.rIrPV(k), j.cVrPV(k), p/m2)
		j.add(j.rIrPV(k), j.cViPV(k), q/m2)
		j.add(j.rIiPV(k), j.cVrPV(k), -q/m2)
		j.add(j.rIiPV(k), j.cViPV(k), p/m2)

		j.add(j.rIrPV(k), j.cQPV(k), vi/m2)
		j.add(j.rIiPV(k), j.cQPV(k), -vr/m2)
	}
}

// modifyForPv removes the Vr_PV unknowns using Vr^2 + Vi^2 = M2_PV linearised at the present point:
//
//	dVr = (M2_PV - Vr^2 - Vi^2)/(2 Vr) - (Vi/Vr) dVi
//
// The constant part moves to the right hand side and the dVi part into the Vi_PV column.
func (nr *NR) modifyForPv() {
	j := nr.jac
	for k, g := range nr.layout.PV {
		vr, vi := nr.vr[g], nr.vi[g]
		vrSafe := floorVr(vr)
		fMult := 0.5 * (nr.m2PV[k] - vr*vr - vi*vi) / vrSafe
		colMult := -vi / vrSafe

		colVr, colVi := j.cVrPV(k), j.cViPV(k)
		for _, r := range j.vrPVRows[k] {
			jrv, ok := j.get(r, colVr)
			if !ok {
				continue
			}
			nr.f[r] += jrv * fMult
			j.add(r, colVi, jrv*colMult)
		}
	}
}

func floorVr(vr float64) float64 {
	minVr := math.Sqrt(consts.MinVoltageSquared)
	if math.Abs(vr) < minVr {
		return math.Copysign(minVr, vr)
	}
	return vr
}

func infNorm(x []float64) float64 {
	norm := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > norm || math.IsNaN(a) {
			norm = a
		}
	}
	return norm
}
