package analysis

import (
	"context"

	"github.com/edp1096/toy-pflow/pkg/network"
)

// OperatingPoint is a single power flow solve.
type OperatingPoint struct{ BaseAnalysis }

func NewOP() *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(),
	}
}

func (op *OperatingPoint) Setup(net *network.Network) error {
	return op.setup(net)
}

func (op *OperatingPoint) Execute(ctx context.Context) error {
	if err := op.solve(ctx); err != nil {
		return err
	}
	op.StoreSolution()
	return nil
}
