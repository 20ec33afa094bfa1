package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/toy-pflow/pkg/network"
)

// LoadSweep scales every PQ power from start to stop and solves at each step,
// each solve starting from the previous solution.
type LoadSweep struct {
	BaseAnalysis
	start, stop, step float64
	sweepVals         []float64
	pq                []*network.Node
	origS             []complex128
}

func NewLoadSweep(start, stop, step float64) *LoadSweep {
	return &LoadSweep{
		BaseAnalysis: *NewBaseAnalysis(),
		start:        start,
		stop:         stop,
		step:         step,
	}
}

func (ls *LoadSweep) Setup(net *network.Network) error {
	if ls.step <= 0 || ls.stop < ls.start {
		return fmt.Errorf("invalid sweep %g to %g step %g", ls.start, ls.stop, ls.step)
	}
	if err := ls.setup(net); err != nil {
		return err
	}

	// integer stepping so the end point is not lost to rounding
	n := int(math.Floor((ls.stop-ls.start)/ls.step+1e-9)) + 1
	ls.sweepVals = make([]float64, n)
	for i := range ls.sweepVals {
		ls.sweepVals[i] = ls.start + float64(i)*ls.step
	}

	layout, err := net.Layout()
	if err != nil {
		return err
	}
	ls.pq = ls.pq[:0]
	ls.origS = ls.origS[:0]
	for _, g := range layout.PQ {
		nd := net.Node(g)
		ls.pq = append(ls.pq, nd)
		ls.origS = append(ls.origS, nd.S)
	}
	return nil
}

// Execute stops at the first step that fails to converge. Results up to that step are kept
// and the loads are restored either way.
func (ls *LoadSweep) Execute(ctx context.Context) error {
	if ls.NR == nil {
		return fmt.Errorf("network not set")
	}
	defer ls.restore()

	for _, scale := range ls.sweepVals {
		for i, nd := range ls.pq {
			nd.S = ls.origS[i] * complex(scale, 0)
		}

		if err := ls.solve(ctx); err != nil {
			return fmt.Errorf("load scale %g: %w", scale, err)
		}

		ls.store("SCALE", scale)
		ls.StoreSolution()
	}
	return nil
}

func (ls *LoadSweep) restore() {
	for i, nd := range ls.pq {
		nd.S = ls.origS[i]
	}
}
