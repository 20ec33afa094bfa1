package report

import (
	"fmt"
	"io"
	"math/cmplx"
	"time"

	"github.com/edp1096/toy-pflow/pkg/network"
	"github.com/edp1096/toy-pflow/pkg/powerflow"
	"github.com/edp1096/toy-pflow/pkg/util"
)

func PrintResult(w io.Writer, res powerflow.Result) {
	fmt.Fprintln(w, "\nPower Flow Result:")
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	fmt.Fprintf(w, "Iterations: %d\n", res.Iterations)
	fmt.Fprintf(w, "Residual:   %.3e\n", res.Error)

	if len(res.Residuals) > 0 {
		fmt.Fprintln(w, "\nIter  Residual")
		for i, r := range res.Residuals {
			fmt.Fprintf(w, "%4d  %.3e\n", i, r)
		}
	}
}

func PrintTimings(w io.Writer, t powerflow.Timings) {
	fmt.Fprintln(w, "\nTimings:")
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"init", t.Init},
		{"mismatch", t.Mismatch},
		{"jacobian", t.Jacobian},
		{"eliminate", t.Eliminate},
		{"build", t.Build},
		{"solve", t.LinearSolve},
		{"update", t.Update},
		{"total", t.Total},
	} {
		fmt.Fprintf(w, "  %-10s %12s\n", row.name, util.FormatDuration(row.d))
	}
}

// PrintBuses writes one line per node: voltage in polar form and complex power.
func PrintBuses(w io.Writer, net *network.Network) {
	fmt.Fprintln(w, "\nBus Voltages:")
	fmt.Fprintf(w, "%-10s %-4s %-5s %9s %8s %12s %12s\n", "bus", "type", "phase", "|V|", "deg", "P", "Q")
	fmt.Fprintln(w, "----------------------------------------------------------------")
	for _, bus := range net.Busses() {
		for _, nd := range net.BusNodes(bus) {
			fmt.Fprintf(w, "%-10s %-4s %-5s %s %s %12.6f %12.6f\n",
				bus.Id, bus.Type, nd.Phase,
				util.FormatMagnitude(cmplx.Abs(nd.V)), util.FormatPhase(util.Degrees(nd.V)),
				real(nd.S), imag(nd.S))
		}
	}
}

func PrintBranchFlows(w io.Writer, flows []BranchFlow) {
	fmt.Fprintln(w, "\nBranch Flows:")
	var total complex128
	for _, bf := range flows {
		fmt.Fprintf(w, "%s\n", bf.Branch)
		for _, term := range bf.Terminals {
			fmt.Fprintf(w, "  %-10s %-5s I=%s  S=%s\n",
				term.Bus, term.Phase, util.FormatPolar(term.I), util.FormatComplex(term.S))
		}
		fmt.Fprintf(w, "  loss %s\n", util.FormatComplex(bf.Loss))
		total += bf.Loss
	}
	fmt.Fprintf(w, "\nTotal branch loss: %s\n", util.FormatComplex(total))
}
