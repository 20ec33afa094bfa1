package analysis

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-pflow/pkg/network"
	"github.com/edp1096/toy-pflow/pkg/powerflow"
)

type Analysis interface {
	Setup(net *network.Network) error
	Execute(ctx context.Context) error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	Net       *network.Network
	NR        *powerflow.NR
	Configure func(nr *powerflow.NR) // applied once by Setup
	last      powerflow.Result
	results   map[string][]float64 // key: variable name, value: result per solve
}

func NewBaseAnalysis() *BaseAnalysis {
	return &BaseAnalysis{results: make(map[string][]float64)}
}

// setup validates net if needed and builds the solver.
func (a *BaseAnalysis) setup(net *network.Network) error {
	if !net.IsValidated() {
		if err := net.Validate(); err != nil {
			return err
		}
	}
	a.Net = net
	a.NR = powerflow.NewNR(net)
	if a.Configure != nil {
		a.Configure(a.NR)
	}
	return nil
}

func (a *BaseAnalysis) solve(ctx context.Context) error {
	if a.NR == nil {
		return fmt.Errorf("network not set")
	}
	res, err := a.NR.Solve(ctx)
	a.last = res
	return err
}

// LastResult is the outcome of the most recent Newton solve.
func (a *BaseAnalysis) LastResult() powerflow.Result { return a.last }

func (a *BaseAnalysis) store(name string, value float64) {
	if _, exists := a.results[name]; !exists {
		a.results[name] = make([]float64, 0)
	}
	a.results[name] = append(a.results[name], value)
}

// StoreSolution records |V| and angle of every node, slack power and the iteration count.
func (a *BaseAnalysis) StoreSolution() {
	vmin := math.Inf(1)
	var slack complex128
	for _, bus := range a.Net.Busses() {
		for _, nd := range a.Net.BusNodes(bus) {
			name := fmt.Sprintf("V(%s.%s)", bus.Id, nd.Phase)
			mag := cmplx.Abs(nd.V)
			a.store(name+"_MAG", mag)
			a.store(name+"_PHASE", cmplx.Phase(nd.V)*180.0/math.Pi)
			if bus.Type == network.PQ && mag < vmin {
				vmin = mag
			}
			if bus.Type == network.SL {
				slack += nd.S
			}
		}
	}
	if !math.IsInf(vmin, 1) {
		a.store("VMIN", vmin)
	}
	a.store("P_SLACK", real(slack))
	a.store("Q_SLACK", imag(slack))
	a.store("ITER", float64(a.last.Iterations))
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
