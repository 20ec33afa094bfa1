package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edp1096/toy-pflow/pkg/casefile"
	"github.com/edp1096/toy-pflow/pkg/powerflow"
	"github.com/edp1096/toy-pflow/pkg/report"
)

func TestStartPolicy(t *testing.T) {
	tests := []struct {
		optFlat, flagSet, flagFlat bool
		want                       powerflow.StartPolicy
	}{
		{false, false, false, powerflow.WarmStart},
		{true, false, false, powerflow.FlatStart},
		{true, true, false, powerflow.WarmStart},
		{false, true, true, powerflow.FlatStart},
		{true, true, true, powerflow.FlatStart},
	}
	for _, tt := range tests {
		if got := startPolicy(tt.optFlat, tt.flagSet, tt.flagFlat); got != tt.want {
			t.Errorf("startPolicy(%v, %v, %v) = %v, want %v", tt.optFlat, tt.flagSet, tt.flagFlat, got, tt.want)
		}
	}
}

func TestLinearSolver(t *testing.T) {
	for _, name := range []string{"", "sparse", "dense"} {
		if _, err := linearSolver(name); err != nil {
			t.Errorf("%q: %v", name, err)
		}
	}
	if _, err := linearSolver("qr"); err == nil {
		t.Errorf("expected error for unknown solver")
	}
}

func TestWriteHTML(t *testing.T) {
	c, err := casefile.ParseFile(filepath.Join("..", "examples", "cases", "twobus.case"))
	if err != nil {
		t.Fatal(err)
	}
	net, err := c.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := net.Validate(); err != nil {
		t.Fatal(err)
	}
	res, err := powerflow.NewNR(net).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "report.html")
	if err := writeHTML(path, &report.Charts{Title: c.Title, Net: net, Result: res}); err != nil {
		t.Fatalf("writeHTML: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "echarts") {
		t.Errorf("report does not load echarts")
	}

	if err := writeHTML(filepath.Join(t.TempDir(), "missing", "report.html"), &report.Charts{Net: net, Result: res}); err == nil {
		t.Errorf("expected error for a missing directory")
	}
}
