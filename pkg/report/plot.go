package report

import (
	"fmt"
	"io"

	"github.com/edp1096/toy-pflow/pkg/powerflow"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// residuals below this are drawn at the floor so the log axis stays finite
const residualFloor = 1e-16

func logFloor(r float64) float64 {
	if r < residualFloor {
		return residualFloor
	}
	return r
}

func convergencePlot(res powerflow.Result) (*plot.Plot, error) {
	if len(res.Residuals) == 0 {
		return nil, fmt.Errorf("no residuals to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Newton-Raphson convergence (%s)", res.Status)
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "max mismatch"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(res.Residuals))
	for i, r := range res.Residuals {
		pts[i].X = float64(i)
		pts[i].Y = logFloor(r)
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	p.Add(line, points)
	p.Legend.Add("residual", line, points)
	return p, nil
}

// WriteConvergencePNG draws the residual history on a log axis.
func WriteConvergencePNG(w io.Writer, res powerflow.Result) error {
	p, err := convergencePlot(res)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func SaveConvergence(path string, res powerflow.Result) error {
	p, err := convergencePlot(res)
	if err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
