package report

import (
	"fmt"
	"io"
	"math/cmplx"
	"net/http"

	"github.com/edp1096/toy-pflow/pkg/network"
	"github.com/edp1096/toy-pflow/pkg/powerflow"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Charts renders a solved network as an HTML page: topology graph, voltage profile and convergence.
type Charts struct {
	Title  string
	Net    *network.Network
	Result powerflow.Result
}

func legend() charts.GlobalOpts {
	return charts.WithLegendOpts(opts.Legend{
		Type:   "scroll",
		Orient: "vertical",
		Right:  "10",
		Top:    "20",
		Bottom: "20",
	})
}

func (c *Charts) Render(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(
		c.topology(),
		c.voltageProfile(),
		c.convergence(),
	)
	return page.Render(w)
}

// Handler serves the rendered page.
func (c *Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	if err := c.Render(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (c *Charts) topology() *charts.Graph {
	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    c.Title,
			Subtitle: "Bus and branch topology",
		}),
		legend(),
	)
	graph.SetSeriesOptions(
		charts.WithEmphasisOpts(opts.Emphasis{
			Label: &opts.Label{
				Show:     opts.Bool(true),
				Color:    "black",
				Position: "left",
			},
		}),
		charts.WithLineStyleOpts(opts.LineStyle{
			Curveness: 0.3,
		}),
	)

	var nodes []opts.GraphNode
	for _, bus := range c.Net.Busses() {
		var vmin float64
		for i, nd := range c.Net.BusNodes(bus) {
			if m := cmplx.Abs(nd.V); i == 0 || m < vmin {
				vmin = m
			}
		}
		nodes = append(nodes, opts.GraphNode{
			Name:     bus.Id,
			Value:    float32(vmin),
			Category: int(bus.Type),
			Tooltip:  &opts.Tooltip{Show: opts.Bool(true)},
		})
	}

	links := make([]opts.GraphLink, 0)
	for _, br := range c.Net.Branches() {
		links = append(links, opts.GraphLink{
			Source: br.Ids[0],
			Target: br.Ids[1],
			Value:  float32(br.NPhase()),
		})
	}

	graph.AddSeries("buses", nodes, links,
		charts.WithGraphChartOpts(opts.GraphChart{
			Categories: []*opts.GraphCategory{
				{Name: network.SL.String(), ItemStyle: &opts.ItemStyle{Color: "#000000de"}},
				{Name: network.PQ.String(), ItemStyle: &opts.ItemStyle{Color: "#1987c7b7"}},
				{Name: network.PV.String(), ItemStyle: &opts.ItemStyle{Color: "#c71979b7"}},
			},
			Roam:               opts.Bool(true),
			Force:              &opts.GraphForce{Repulsion: 80},
			EdgeLabel:          &opts.EdgeLabel{Show: opts.Bool(true)},
			FocusNodeAdjacency: opts.Bool(true),
		}))
	return graph
}

func (c *Charts) voltageProfile() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Voltage profile",
			Subtitle: "|V| per bus phase (pu)",
		}),
		legend(),
		charts.WithYAxisOpts(opts.YAxis{
			Scale: opts.Bool(true),
		}),
	)

	var labels []string
	var mags, angles []opts.BarData
	for _, bus := range c.Net.Busses() {
		for _, nd := range c.Net.BusNodes(bus) {
			labels = append(labels, fmt.Sprintf("%s.%s", bus.Id, nd.Phase))
			mags = append(mags, opts.BarData{Value: cmplx.Abs(nd.V)})
			angles = append(angles, opts.BarData{Value: cmplx.Phase(nd.V)})
		}
	}
	bar.SetXAxis(labels).
		AddSeries("|V|", mags).
		AddSeries("angle (rad)", angles)
	return bar
}

func (c *Charts) convergence() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Convergence",
			Subtitle: fmt.Sprintf("%s after %d iterations", c.Result.Status, c.Result.Iterations),
		}),
		legend(),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "log",
		}),
		charts.WithAnimation(true),
	)

	iters := make([]int, len(c.Result.Residuals))
	items := make([]opts.LineData, len(c.Result.Residuals))
	for i, r := range c.Result.Residuals {
		iters[i] = i
		items[i] = opts.LineData{Value: logFloor(r)}
	}
	line.SetXAxis(iters).AddSeries("residual", items)
	return line
}
