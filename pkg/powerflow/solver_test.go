package powerflow

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/edp1096/toy-pflow/internal/consts"
	"github.com/edp1096/toy-pflow/pkg/matrix"
	"github.com/edp1096/toy-pflow/pkg/network"
)

var bal = network.NewPhases(network.BAL)

func one(v complex128) []complex128 { return []complex128{v} }

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func twoBus(t *testing.T, typ network.BusType, v2, s2 complex128) *network.Network {
	t.Helper()
	n := network.New()
	must(t, n.AddBus("1", network.SL, bal, one(1), nil, nil, nil))
	must(t, n.AddBus("2", typ, bal, one(v2), nil, nil, one(s2)))
	must(t, n.AddBranch("1", "2", bal, bal, network.YLine1P(complex(5, -15))))
	must(t, n.Validate())
	return n
}

func nodeV(t *testing.T, n *network.Network, id string) complex128 {
	t.Helper()
	b, ok := n.Bus(id)
	if !ok {
		t.Fatalf("bus %q missing", id)
	}
	return n.BusNodes(b)[0].V
}

// netInjection returns V conj(Y V) at every node, i.e. S + V conj(Ic) at convergence.
func netInjection(t *testing.T, n *network.Network) []complex128 {
	t.Helper()
	y, err := n.Y()
	must(t, err)
	nodes := n.Nodes()
	v := make([]complex128, len(nodes))
	for i, nd := range nodes {
		v[i] = nd.V
	}
	out := make([]complex128, len(nodes))
	for i := range nodes {
		out[i] = v[i] * cmplx.Conj(y.RowDot(i, v))
	}
	return out
}

func TestTwoBusPQ(t *testing.T) {
	load := complex(0.5, 0.2)
	n := twoBus(t, network.PQ, 1, -load)

	res, err := NewNR(n).Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v (%v)", err, res.Status)
	}
	if res.Iterations > 10 {
		t.Errorf("took %d iterations", res.Iterations)
	}

	want := twoBusPQVoltage(load)
	if got := nodeV(t, n, "2"); cmplx.Abs(got-want) > 1e-8 {
		t.Errorf("V2 = %v, want %v", got, want)
	}
	if nodeV(t, n, "1") != 1 {
		t.Errorf("slack voltage was modified")
	}

	// slack supplies load plus losses
	slack, _ := n.Bus("1")
	s1 := n.BusNodes(slack)[0].S
	v2 := nodeV(t, n, "2")
	loss := complex(cmplx.Abs(1-v2)*cmplx.Abs(1-v2), 0) * cmplx.Conj(complex(5, -15))
	if cmplx.Abs(s1-(load+loss)) > 1e-8 {
		t.Errorf("S1 = %v, want %v", s1, load+loss)
	}
}

// twoBusPQVoltage is the high voltage solution at bus 2 of twoBus for a load S drawn there:
// V2 = |V2|^2 + conj(z) S with |V2|^2 the larger root of
// u^2 + (2(RP + XQ) - 1) u + |z|^2 |S|^2 = 0.
func twoBusPQVoltage(load complex128) complex128 {
	z := 1 / complex(5, -15)
	r, x := real(z), imag(z)
	p, q := real(load), imag(load)
	b := 2*(r*p+x*q) - 1
	c := (r*r + x*x) * (p*p + q*q)
	u := (-b + math.Sqrt(b*b-4*c)) / 2
	return complex(u, 0) + cmplx.Conj(z)*load
}

func TestPQStartsAtZeroVoltage(t *testing.T) {
	load := complex(0.5, 0.2)
	n := twoBus(t, network.PQ, 0, -load)

	res, err := NewNR(n).Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v (%v)", err, res.Status)
	}
	got := nodeV(t, n, "2")
	if cmplx.IsNaN(got) || cmplx.IsInf(got) {
		t.Fatalf("V2 = %v", got)
	}
	if want := twoBusPQVoltage(load); cmplx.Abs(got-want) > 1e-8 {
		t.Errorf("V2 = %v, want %v", got, want)
	}
}

func TestTwoBusPV(t *testing.T) {
	n := twoBus(t, network.PV, 0.98, 0.5)

	res, err := NewNR(n).Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v (%v)", err, res.Status)
	}

	v2 := nodeV(t, n, "2")
	if math.Abs(cmplx.Abs(v2)-0.98) > 1e-10 {
		t.Errorf("|V2| = %.12f, want 0.98", cmplx.Abs(v2))
	}

	pv, _ := n.Bus("2")
	s2 := n.BusNodes(pv)[0].S
	if math.Abs(real(s2)-0.5) > 1e-12 {
		t.Errorf("P2 = %v, want 0.5", real(s2))
	}

	inj := netInjection(t, n)
	if cmplx.Abs(inj[1]-s2) > 1e-8 {
		t.Errorf("network injection at PV %v, solved %v", inj[1], s2)
	}

	slack, _ := n.Bus("1")
	s1 := n.BusNodes(slack)[0].S
	losses := inj[0] + inj[1]
	if cmplx.Abs(s1+s2-losses) > 1e-8 {
		t.Errorf("balance: S1 + S2 = %v, losses %v", s1+s2, losses)
	}
	if real(losses) < 0 {
		t.Errorf("negative losses %v", losses)
	}
}

func TestIdempotentSolve(t *testing.T) {
	n := threePhase(t)
	nr := NewNR(n)

	_, err := nr.Solve(context.Background())
	must(t, err)
	first := voltages(n)

	res, err := nr.Solve(context.Background())
	must(t, err)
	if res.Iterations > 1 {
		t.Errorf("second solve took %d iterations", res.Iterations)
	}
	for i, v := range voltages(n) {
		if cmplx.Abs(v-first[i]) > 1e-10 {
			t.Errorf("node %d moved from %v to %v", i, first[i], v)
		}
	}
}

func TestDeterministic(t *testing.T) {
	a, b := threePhase(t), threePhase(t)
	_, err := NewNR(a).Solve(context.Background())
	must(t, err)
	_, err = NewNR(b).Solve(context.Background())
	must(t, err)

	va, vb := voltages(a), voltages(b)
	for i := range va {
		if va[i] != vb[i] {
			t.Errorf("node %d: %v vs %v", i, va[i], vb[i])
		}
	}
}

func TestThreePhaseBalance(t *testing.T) {
	n := threePhase(t)
	nr := NewNR(n)
	nr.SetStart(FlatStart)
	res, err := nr.Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if len(res.Residuals) != res.Iterations+1 {
		t.Errorf("%d residuals for %d iterations", len(res.Residuals), res.Iterations)
	}

	inj := netInjection(t, n)
	var total, losses complex128
	for i, nd := range n.Nodes() {
		total += nd.S + nd.V*cmplx.Conj(nd.Ic)
		losses += inj[i]
		if cmplx.Abs(inj[i]-nd.S-nd.V*cmplx.Conj(nd.Ic)) > 1e-7 {
			t.Errorf("node %d: network %v, solved %v", i, inj[i], nd.S)
		}
	}
	if cmplx.Abs(total-losses) > 1e-7 {
		t.Errorf("generation - load %v, losses %v", total, losses)
	}

	pv, _ := n.Bus("gen")
	for i, nd := range n.BusNodes(pv) {
		if math.Abs(cmplx.Abs(nd.V)-1.02) > 1e-10 {
			t.Errorf("PV phase %d |V| = %.12f", i, cmplx.Abs(nd.V))
		}
	}
}

func TestBackendsAgree(t *testing.T) {
	a, b := threePhase(t), threePhase(t)

	nrSparse := NewNR(a)
	_, err := nrSparse.Solve(context.Background())
	must(t, err)

	nrDense := NewNR(b)
	nrDense.SetLinearSolver(matrix.NewDenseSolver())
	_, err = nrDense.Solve(context.Background())
	must(t, err)

	va, vb := voltages(a), voltages(b)
	for i := range va {
		if cmplx.Abs(va[i]-vb[i]) > 1e-9 {
			t.Errorf("node %d: sparse %v, dense %v", i, va[i], vb[i])
		}
	}
}

type failingSolver struct{ calls int }

func (s *failingSolver) Solve(a *matrix.Triplet, b []float64) ([]float64, error) {
	s.calls++
	return nil, matrix.ErrSingular
}

func TestSingularLeavesStateUntouched(t *testing.T) {
	n := twoBus(t, network.PQ, 1, complex(-0.5, -0.2))
	fs := &failingSolver{}
	nr := NewNR(n)
	nr.SetLinearSolver(fs)

	res, err := nr.Solve(context.Background())
	if !errors.Is(err, ErrSingular) || !errors.Is(err, matrix.ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
	if res.Status != FailedSingular || res.Converged() {
		t.Errorf("status %v", res.Status)
	}
	if fs.calls != 1 {
		t.Errorf("linear solver called %d times", fs.calls)
	}
	if v := nodeV(t, n, "2"); v != 1 {
		t.Errorf("V2 changed to %v", v)
	}
}

func TestMaxIterations(t *testing.T) {
	n := twoBus(t, network.PQ, 1, complex(-1.5, -0.6))
	nr := NewNR(n)
	nr.SetMaxIterations(1)

	res, err := nr.Solve(context.Background())
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
	if res.Status != DivergedMaxIterations || res.Iterations != 1 {
		t.Errorf("status %v after %d iterations", res.Status, res.Iterations)
	}
	if v := nodeV(t, n, "2"); v != 1 {
		t.Errorf("V2 changed to %v", v)
	}

	// the same network converges with the default ceiling
	nr.SetMaxIterations(20)
	_, err = nr.Solve(context.Background())
	must(t, err)
}

func TestNotValidated(t *testing.T) {
	n := network.New()
	must(t, n.AddBus("1", network.SL, bal, one(1), nil, nil, nil))
	res, err := NewNR(n).Solve(context.Background())
	if !errors.Is(err, ErrNotValidated) {
		t.Errorf("expected ErrNotValidated, got %v", err)
	}
	if res.Status != FailedInvalid {
		t.Errorf("status %v", res.Status)
	}
}

func TestZeroSetpoint(t *testing.T) {
	n := twoBus(t, network.PV, 0, 0.5)
	res, err := NewNR(n).Solve(context.Background())
	if !errors.Is(err, ErrSetpoint) {
		t.Fatalf("expected ErrSetpoint, got %v", err)
	}
	if res.Status != FailedInvalid || len(res.Residuals) != 0 {
		t.Errorf("status %v with %d residuals", res.Status, len(res.Residuals))
	}
}

// A PV node whose Vr starts at zero divides by the floored Vr in the elimination.
func TestEliminationAtZeroVr(t *testing.T) {
	n := twoBus(t, network.PV, complex(0, 0.98), 0.5)
	nr := NewNR(n)
	must(t, nr.init())
	nr.calcMismatch()
	nr.updateJ()

	j := nr.jac
	colVr, colVi := j.cVrPV(0), j.cViPV(0)
	before := make(map[int][2]float64)
	for _, r := range j.vrPVRows[0] {
		jrv, _ := j.get(r, colVr)
		jri, _ := j.get(r, colVi)
		before[r] = [2]float64{jrv, jri}
	}
	f := append([]float64(nil), nr.f...)

	nr.modifyForPv()

	colMult := -0.98 / math.Sqrt(consts.MinVoltageSquared)
	for r, b := range before {
		got, _ := j.get(r, colVi)
		want := b[1] + b[0]*colMult
		if math.IsNaN(got) || math.IsInf(got, 0) || math.Abs(got-want) > 1e-9*math.Abs(want) {
			t.Errorf("row %d: Vi_PV entry %v, want %v", r, got, want)
		}
	}
	// |V| already sits on the set-point, so nothing moves to the right hand side
	for r := range f {
		if nr.f[r] != f[r] {
			t.Errorf("f[%d] changed from %v to %v", r, f[r], nr.f[r])
		}
	}
}

func TestPVStartOnImaginaryAxis(t *testing.T) {
	n := twoBus(t, network.PV, cmplx.Rect(0.98, math.Pi/2), 0.5)

	res, err := NewNR(n).Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v (%v)", err, res.Status)
	}
	v2 := nodeV(t, n, "2")
	if math.Abs(cmplx.Abs(v2)-0.98) > 1e-10 {
		t.Errorf("|V2| = %.12f, want 0.98", cmplx.Abs(v2))
	}
	pv, _ := n.Bus("2")
	s2 := n.BusNodes(pv)[0].S
	if cmplx.Abs(netInjection(t, n)[1]-s2) > 1e-8 {
		t.Errorf("network injection does not match solved %v", s2)
	}
}

func TestApplyStepOvershoot(t *testing.T) {
	n := twoBus(t, network.PV, cmplx.Rect(1, math.Pi/6), 0.5)
	nr := NewNR(n)
	must(t, nr.init())

	j := nr.jac
	g := nr.layout.PV[0]
	vr0, vi0 := nr.vr[g], nr.vi[g]

	// inside the circle Vr follows the magnitude exactly
	x := make([]float64, j.size())
	x[j.sysCol[j.cViPV(0)]] = 0.1
	nr.applyStep(x)
	if want := math.Sqrt(1 - nr.vi[g]*nr.vi[g]); math.Abs(nr.vr[g]-want) > 1e-15 {
		t.Errorf("Vr = %v, want %v", nr.vr[g], want)
	}

	// past the circle the linearised update is used
	nr.vr[g], nr.vi[g] = vr0, vi0
	x[j.sysCol[j.cViPV(0)]] = 0.6
	x[j.sysCol[j.cQPV(0)]] = 0.25
	q0 := nr.q[g]
	nr.applyStep(x)
	want := vr0 + (1-vr0*vr0-vi0*vi0-2*vi0*0.6)/(2*vr0)
	if math.Abs(nr.vi[g]-(vi0+0.6)) > 1e-15 || math.Abs(nr.vr[g]-want) > 1e-12 {
		t.Errorf("V = %v%+vj, want %v%+vj", nr.vr[g], nr.vi[g], want, vi0+0.6)
	}
	if nr.q[g] != q0+0.25 {
		t.Errorf("Q = %v, want %v", nr.q[g], q0+0.25)
	}
}

// A heavy PV injection over a weak line from a flat start throws Vi past the set-point
// circle on the first steps; later steps must still land on |V| = 1.
func TestPVRecoversFromOvershoot(t *testing.T) {
	n := network.New()
	must(t, n.AddBus("1", network.SL, bal, one(1), nil, nil, nil))
	must(t, n.AddBus("2", network.PV, bal, one(1), nil, nil, one(3.2)))
	must(t, n.AddBranch("1", "2", bal, bal, network.YLine1P(complex(1, -3))))
	must(t, n.Validate())

	nr := NewNR(n)
	nr.SetStart(FlatStart)
	res, err := nr.Solve(context.Background())
	if err != nil {
		t.Fatalf("solve failed: %v (%v)", err, res.Status)
	}

	v2 := nodeV(t, n, "2")
	if math.Abs(cmplx.Abs(v2)-1) > 1e-10 {
		t.Errorf("|V2| = %.12f, want 1", cmplx.Abs(v2))
	}
	// S2 = conj(y) (1 - V2) for |V1| = |V2| = 1
	pv, _ := n.Bus("2")
	s2 := n.BusNodes(pv)[0].S
	if want := complex(1, 3) * (1 - v2); cmplx.Abs(s2-want) > 1e-8 || math.Abs(real(s2)-3.2) > 1e-12 {
		t.Errorf("S2 = %v, want %v with P = 3.2", s2, want)
	}
}

func TestFloorVr(t *testing.T) {
	minVr := math.Sqrt(consts.MinVoltageSquared)
	for _, tt := range []struct{ in, want float64 }{
		{0, minVr},
		{1e-9, minVr},
		{-1e-9, -minVr},
		{0.5, 0.5},
		{-0.5, -0.5},
	} {
		if got := floorVr(tt.in); got != tt.want {
			t.Errorf("floorVr(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSlackOnly(t *testing.T) {
	n := network.New()
	must(t, n.AddBus("1", network.SL, bal, one(1), one(complex(0.1, 0)), nil, nil))
	must(t, n.Validate())
	res, err := NewNR(n).Solve(context.Background())
	must(t, err)
	if res.Iterations != 0 {
		t.Errorf("iterations %d", res.Iterations)
	}
	slack, _ := n.Bus("1")
	if s := n.BusNodes(slack)[0].S; cmplx.Abs(s-0.1) > 1e-15 {
		t.Errorf("slack power %v, want shunt consumption 0.1", s)
	}
}

func threePhase(t *testing.T) *network.Network {
	t.Helper()
	abc := network.NewPhases(network.A, network.B, network.C)
	a := cmplx.Rect(1, 0)
	b := cmplx.Rect(1, -2*math.Pi/3)
	c := cmplx.Rect(1, 2*math.Pi/3)

	z := [][]complex128{
		{complex(0.02, 0.06), complex(0.005, 0.02), complex(0.005, 0.02)},
		{complex(0.005, 0.02), complex(0.02, 0.06), complex(0.005, 0.02)},
		{complex(0.005, 0.02), complex(0.005, 0.02), complex(0.02, 0.06)},
	}
	y, err := network.ZLine2YNode(z)
	must(t, err)

	n := network.New()
	must(t, n.AddBus("src", network.SL, abc, []complex128{a, b, c}, nil, nil, nil))
	must(t, n.AddBus("load", network.PQ, abc, []complex128{a, b, c}, nil,
		[]complex128{0, complex(-0.01, 0), 0},
		[]complex128{complex(-0.3, -0.1), complex(-0.25, -0.08), complex(-0.35, -0.12)}))
	must(t, n.AddBus("gen", network.PV, abc, []complex128{1.02 * a, 1.02 * b, 1.02 * c},
		[]complex128{complex(0, 0.01), complex(0, 0.01), complex(0, 0.01)}, nil,
		[]complex128{0.2, 0.2, 0.2}))
	must(t, n.AddBranch("src", "load", abc, abc, y))
	must(t, n.AddBranch("load", "gen", abc, abc, y))
	must(t, n.Validate())
	return n
}

func voltages(n *network.Network) []complex128 {
	nodes := n.Nodes()
	out := make([]complex128, len(nodes))
	for i, nd := range nodes {
		out[i] = nd.V
	}
	return out
}
