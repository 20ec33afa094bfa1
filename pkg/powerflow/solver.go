package powerflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"time"

	"github.com/edp1096/toy-pflow/internal/consts"
	"github.com/edp1096/toy-pflow/pkg/matrix"
	"github.com/edp1096/toy-pflow/pkg/network"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type StartPolicy int

const (
	WarmStart StartPolicy = iota // last committed node voltages
	FlatStart                    // slack voltage of the matching phase
)

func (s StartPolicy) String() string {
	if s == FlatStart {
		return "flat"
	}
	return "warm"
}

// NR is a Newton-Raphson power flow over a validated network.
// One NR must not be used from several goroutines at once.
type NR struct {
	net    *network.Network
	solver matrix.LinearSolver
	logger *slog.Logger
	start  StartPolicy

	convergence struct {
		maxIter int
		tol     float64
	}

	// rebuilt by init
	layout network.Layout
	y      *matrix.Admittance
	jac    *jacobian
	sys    *matrix.Triplet

	vr, vi   []float64 // indexed by global node index
	p, q     []float64
	icr, ici []float64
	m2PV     []float64 // indexed by PV position
	v        []complex128
	f        []float64
	rhs      []float64
}

func NewNR(net *network.Network) *NR {
	nr := &NR{
		net:    net,
		solver: matrix.NewSparseSolver(),
	}
	nr.convergence.maxIter = consts.MaxIterations
	nr.convergence.tol = consts.Tolerance
	return nr
}

func (nr *NR) SetTolerance(tol float64) {
	if tol > 0 {
		nr.convergence.tol = tol
	}
}

func (nr *NR) SetMaxIterations(n int) {
	if n > 0 {
		nr.convergence.maxIter = n
	}
}

func (nr *NR) SetStart(policy StartPolicy) { nr.start = policy }

// SetLinearSolver replaces the backend used for the Newton step. nil restores the sparse solver.
func (nr *NR) SetLinearSolver(s matrix.LinearSolver) {
	if s == nil {
		s = matrix.NewSparseSolver()
	}
	nr.solver = s
}

func (nr *NR) SetLogger(l *slog.Logger) { nr.logger = l }

func (nr *NR) Tolerance() float64 { return nr.convergence.tol }

func (nr *NR) MaxIterations() int { return nr.convergence.maxIter }

func (nr *NR) log() *slog.Logger {
	if nr.logger == nil {
		return slog.Default()
	}
	return nr.logger
}

// Solve runs Newton-Raphson from the configured starting point. On convergence node voltages and
// powers are written back to the network; on any failure the nodes are left untouched.
// The error is nil iff Result.Status is Converged.
func (nr *NR) Solve(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("pkg/powerflow").Start(ctx, "powerflow.solve")
	defer span.End()

	res, err := nr.solve(ctx)

	span.SetAttributes(
		attribute.String("powerflow.status", res.Status.String()),
		attribute.Int("powerflow.iterations", res.Iterations),
		attribute.Float64("powerflow.error", res.Error),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (nr *NR) solve(ctx context.Context) (Result, error) {
	var res Result
	logger := nr.log()
	begin := time.Now()
	defer func() { res.Timings.Total = time.Since(begin) }()

	if !nr.net.IsValidated() {
		res.Status = FailedInvalid
		res.Error = math.Inf(1)
		return res, ErrNotValidated
	}

	t := time.Now()
	if err := nr.init(); err != nil {
		res.Status = FailedInvalid
		res.Error = math.Inf(1)
		return res, err
	}
	res.Timings.Init = time.Since(t)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("powerflow.nodes", len(nr.vr)),
		attribute.Int("powerflow.pq", len(nr.layout.PQ)),
		attribute.Int("powerflow.pv", len(nr.layout.PV)),
	)
	logger.Debug("power flow start",
		"nodes", len(nr.vr), "sl", len(nr.layout.SL), "pq", len(nr.layout.PQ), "pv", len(nr.layout.PV),
		"start", nr.start.String(), "tol", nr.convergence.tol, "maxIter", nr.convergence.maxIter)

	for iter := 0; ; iter++ {
		t = time.Now()
		norm := nr.calcMismatch()
		res.Timings.Mismatch += time.Since(t)
		res.Residuals = append(res.Residuals, norm)
		res.Error = norm
		res.Iterations = iter

		logger.Debug("newton iteration", "iter", iter, "residual", norm)

		if norm <= nr.convergence.tol {
			res.Status = Converged
			break
		}
		if iter >= nr.convergence.maxIter {
			res.Status = DivergedMaxIterations
			logger.Warn("power flow did not converge", "iterations", iter, "residual", norm)
			return res, fmt.Errorf("residual %.3e after %d iterations: %w", norm, iter, ErrMaxIterations)
		}

		t = time.Now()
		nr.updateJ()
		res.Timings.Jacobian += time.Since(t)

		t = time.Now()
		nr.modifyForPv()
		res.Timings.Eliminate += time.Since(t)

		t = time.Now()
		nr.jac.stamp(nr.sys)
		for r, fr := range nr.f {
			nr.rhs[nr.jac.sysRow[r]] = -fr
		}
		res.Timings.Build += time.Since(t)

		t = time.Now()
		x, err := nr.solver.Solve(nr.sys, nr.rhs)
		res.Timings.LinearSolve += time.Since(t)
		if err != nil {
			res.Status = FailedSingular
			logger.Warn("power flow linear solve failed", "iter", iter, "error", err)
			return res, fmt.Errorf("iteration %d: %w: %w", iter, ErrSingular, err)
		}

		t = time.Now()
		nr.applyStep(x)
		res.Timings.Update += time.Since(t)
	}

	nr.commit()

	logger.Info("power flow converged", "iterations", res.Iterations, "residual", res.Error)
	logger.Debug("power flow timings",
		"init", res.Timings.Init,
		"mismatch", res.Timings.Mismatch,
		"jacobian", res.Timings.Jacobian,
		"eliminate", res.Timings.Eliminate,
		"build", res.Timings.Build,
		"solve", res.Timings.LinearSolve,
		"update", res.Timings.Update,
		"total", time.Since(begin))
	return res, nil
}

// init seeds the iterate from the network and reuses the constant Jacobian while Y is unchanged.
func (nr *NR) init() error {
	y, err := nr.net.Y()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotValidated, err)
	}
	layout, err := nr.net.Layout()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotValidated, err)
	}

	if y != nr.y || nr.jac == nil {
		nr.y = y
		nr.layout = layout
		nr.jac = newJacobian(y, layout)
		nr.sys = matrix.NewTriplet(nr.jac.size())
		nr.allocate(y.Size)
	}

	for g := 0; g < y.Size; g++ {
		nd := nr.net.Node(g)
		nr.vr[g], nr.vi[g] = real(nd.V), imag(nd.V)
		nr.p[g], nr.q[g] = real(nd.S), imag(nd.S)
		nr.icr[g], nr.ici[g] = real(nd.Ic), imag(nd.Ic)
	}

	for k, g := range layout.PV {
		m2 := nr.vr[g]*nr.vr[g] + nr.vi[g]*nr.vi[g]
		if m2 < consts.MinVoltageSquared {
			nd := nr.net.Node(g)
			return fmt.Errorf("bus %q phase %s: %w", nr.net.BusOf(nd).Id, nd.Phase, ErrSetpoint)
		}
		nr.m2PV[k] = m2
	}

	for _, g := range layout.PQ {
		if nr.start == FlatStart || nr.vr[g]*nr.vr[g]+nr.vi[g]*nr.vi[g] < consts.MinVoltageSquared {
			v := nr.flatVoltage(g)
			nr.vr[g], nr.vi[g] = real(v), imag(v)
		}
	}
	if nr.start == FlatStart {
		for k, g := range layout.PV {
			v := cmplx.Rect(math.Sqrt(nr.m2PV[k]), cmplx.Phase(nr.flatVoltage(g)))
			nr.vr[g], nr.vi[g] = real(v), imag(v)
		}
	}
	return nil
}

func (nr *NR) allocate(n int) {
	nr.vr, nr.vi = make([]float64, n), make([]float64, n)
	nr.p, nr.q = make([]float64, n), make([]float64, n)
	nr.icr, nr.ici = make([]float64, n), make([]float64, n)
	nr.v = make([]complex128, n)
	nr.m2PV = make([]float64, len(nr.layout.PV))
	nr.f = make([]float64, nr.jac.size())
	nr.rhs = make([]float64, nr.jac.size())
}

// flatVoltage is the voltage of the first slack node on the same phase as node g,
// or of the first slack node when no slack shares the phase.
func (nr *NR) flatVoltage(g int) complex128 {
	phase := nr.net.Node(g).Phase
	for _, s := range nr.layout.SL {
		if nd := nr.net.Node(s); nd.Phase == phase {
			return nd.V
		}
	}
	return nr.net.Node(nr.layout.SL[0]).V
}

// applyStep adds the Newton increment. PV Vr is recovered from the magnitude constraint.
func (nr *NR) applyStep(x []float64) {
	j := nr.jac
	for k, g := range nr.layout.PQ {
		nr.vr[g] += x[j.sysCol[j.cVrPQ(k)]]
		nr.vi[g] += x[j.sysCol[j.cViPQ(k)]]
	}

	for k, g := range nr.layout.PV {
		dVi := x[j.sysCol[j.cViPV(k)]]
		dQ := x[j.sysCol[j.cQPV(k)]]

		vrOld, viOld := nr.vr[g], nr.vi[g]
		nr.vi[g] = viOld + dVi
		if rem := nr.m2PV[k] - nr.vi[g]*nr.vi[g]; rem > 0 {
			nr.vr[g] = math.Copysign(math.Sqrt(rem), floorVr(vrOld))
		} else {
			nr.vr[g] = vrOld + (nr.m2PV[k]-vrOld*vrOld-viOld*viOld-2*viOld*dVi)/(2*floorVr(vrOld))
		}
		nr.q[g] += dQ
	}
}

// commit writes the converged state to the nodes. Slack power closes the balance:
// S_SL = V_SL conj(sum_k Y(SL,k) V_k) - V_SL conj(Ic_SL).
func (nr *NR) commit() {
	for i := range nr.v {
		nr.v[i] = complex(nr.vr[i], nr.vi[i])
	}

	for _, g := range nr.layout.PQ {
		nr.net.Node(g).V = nr.v[g]
	}
	for _, g := range nr.layout.PV {
		nd := nr.net.Node(g)
		nd.V = nr.v[g]
		nd.S = complex(nr.p[g], nr.q[g])
	}
	for _, g := range nr.layout.SL {
		nd := nr.net.Node(g)
		v := nr.v[g]
		nd.S = v*cmplx.Conj(nr.y.RowDot(g, nr.v)) - v*cmplx.Conj(nd.Ic)
	}
}
