package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/edp1096/toy-pflow/pkg/analysis"
	"github.com/edp1096/toy-pflow/pkg/casefile"
	"github.com/edp1096/toy-pflow/pkg/matrix"
	"github.com/edp1096/toy-pflow/pkg/powerflow"
	"github.com/edp1096/toy-pflow/pkg/report"
	"github.com/edp1096/toy-pflow/pkg/util"
)

var (
	tol      = flag.Float64("tol", 0, "convergence tolerance (overrides .options)")
	maxIter  = flag.Int("maxiter", 0, "iteration ceiling (overrides .options)")
	flat     = flag.Bool("flat", false, "start from the slack voltage instead of the stored voltages")
	solver   = flag.String("solver", "", "linear solver: sparse or dense")
	plotPath = flag.String("plot", "", "write the convergence plot to this png")
	htmlPath = flag.String("html", "", "write an html report to this file")
	verbose  = flag.Bool("v", false, "log every iteration")
	dump     = flag.Bool("print", false, "print the assembled network before solving")
)

func linearSolver(name string) (matrix.LinearSolver, error) {
	switch name {
	case "", "sparse":
		return matrix.NewSparseSolver(), nil
	case "dense":
		return matrix.NewDenseSolver(), nil
	}
	return nil, fmt.Errorf("unknown solver %q", name)
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// startPolicy lets an explicit -flat flag, true or false, override .options flat.
func startPolicy(optFlat, flagSet, flagFlat bool) powerflow.StartPolicy {
	useFlat := optFlat
	if flagSet {
		useFlat = flagFlat
	}
	if useFlat {
		return powerflow.FlatStart
	}
	return powerflow.WarmStart
}

func writeHTML(path string, charts *report.Charts) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := charts.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func pick(flagVal, optVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return optVal
}

func printSweep(results map[string][]float64) {
	scales := results["SCALE"]
	fmt.Printf("\nLoad Sweep Results (%d points):\n", len(scales))
	fmt.Println("Scale     Iter  Vmin       P_slack     Q_slack     Node Voltages")
	fmt.Println("------------------------------------------------------------------")

	var voltageNames []string
	for name := range results {
		if strings.HasPrefix(name, "V(") && strings.HasSuffix(name, "_MAG") {
			voltageNames = append(voltageNames, strings.TrimSuffix(name, "_MAG"))
		}
	}
	sort.Strings(voltageNames)

	for i, scale := range scales {
		fmt.Printf("%-8.4f  %4.0f  ", scale, results["ITER"][i])
		if vmin, ok := results["VMIN"]; ok {
			fmt.Printf("%s  ", util.FormatMagnitude(vmin[i]))
		} else {
			fmt.Printf("%9s  ", "-")
		}
		fmt.Printf("%10.6f  %10.6f  ", results["P_SLACK"][i], results["Q_SLACK"][i])
		for _, name := range voltageNames {
			fmt.Printf("%s=%s<%sdeg  ", name,
				util.FormatMagnitude(results[name+"_MAG"][i]), util.FormatPhase(results[name+"_PHASE"][i]))
		}
		fmt.Println()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("Usage: pflow [flags] <case_file>")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// 1. Parse case
	c, err := casefile.ParseFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Error parsing case file: %v", err)
	}

	// 2. Build and validate network
	net, err := c.Build()
	if err != nil {
		log.Fatalf("Error building network: %v", err)
	}
	if err := net.Validate(); err != nil {
		log.Fatalf("Error validating network: %v", err)
	}
	if *dump {
		net.Print(os.Stdout)
	}

	// 3. Setup analysis. Flags override .options
	ls, err := linearSolver(pick(*solver, c.Options.Solver))
	if err != nil {
		log.Fatal(err)
	}
	configure := func(nr *powerflow.NR) {
		nr.SetLogger(logger)
		nr.SetTolerance(c.Options.Tol)
		nr.SetMaxIterations(c.Options.MaxIter)
		nr.SetTolerance(*tol)
		nr.SetMaxIterations(*maxIter)
		nr.SetStart(startPolicy(c.Options.Flat, isFlagSet("flat"), *flat))
		nr.SetLinearSolver(ls)
	}

	if c.Sweep != nil {
		sweep := analysis.NewLoadSweep(c.Sweep.Start, c.Sweep.Stop, c.Sweep.Step)
		sweep.Configure = configure
		if err := sweep.Setup(net); err != nil {
			log.Fatalf("Sweep setup failed: %v", err)
		}
		sweepErr := sweep.Execute(context.Background())
		fmt.Printf("%s\n", c.Title)
		printSweep(sweep.GetResults())
		if sweepErr != nil {
			log.Fatalf("Sweep stopped: %v", sweepErr)
		}
		return
	}

	op := analysis.NewOP()
	op.Configure = configure
	if err := op.Setup(net); err != nil {
		log.Fatalf("Analysis setup failed: %v", err)
	}

	// 4. Solve
	solveErr := op.Execute(context.Background())
	res := op.LastResult()

	// 5. Print result
	fmt.Printf("%s\n", c.Title)
	report.PrintResult(os.Stdout, res)
	if *verbose {
		report.PrintTimings(os.Stdout, res.Timings)
	}

	if *plotPath != "" && len(res.Residuals) > 0 {
		if err := report.SaveConvergence(*plotPath, res); err != nil {
			log.Fatalf("Error writing plot: %v", err)
		}
	}

	if solveErr != nil {
		log.Fatalf("Power flow failed: %v", solveErr)
	}

	report.PrintBuses(os.Stdout, net)
	flows, err := report.BranchFlows(net)
	if err != nil {
		log.Fatalf("Error computing branch flows: %v", err)
	}
	report.PrintBranchFlows(os.Stdout, flows)

	if *htmlPath != "" {
		charts := &report.Charts{Title: c.Title, Net: net, Result: res}
		if err := writeHTML(*htmlPath, charts); err != nil {
			log.Fatalf("Error writing html report: %v", err)
		}
	}
}
