package report

import (
	"math/cmplx"

	"github.com/edp1096/toy-pflow/pkg/network"
)

// Terminal is the flow leaving a bus into a branch on one phase.
type Terminal struct {
	Bus   string
	Phase network.Phase
	V     complex128
	I     complex128 // current into the branch
	S     complex128 // V conj(I)
}

type BranchFlow struct {
	Branch    *network.Branch
	Terminals []Terminal
	Loss      complex128 // sum of terminal powers
}

// BranchFlows evaluates I = Yprim V at every branch terminal using the node voltages
// currently stored in the network.
func BranchFlows(net *network.Network) ([]BranchFlow, error) {
	var flows []BranchFlow
	for _, br := range net.Branches() {
		terms, err := net.Terminals(br)
		if err != nil {
			return nil, err
		}

		bf := BranchFlow{Branch: br, Terminals: make([]Terminal, len(terms))}
		for i, nd := range terms {
			var cur complex128
			for k, other := range terms {
				cur += br.Y[i][k] * other.V
			}
			s := nd.V * cmplx.Conj(cur)
			bf.Terminals[i] = Terminal{
				Bus:   net.BusOf(nd).Id,
				Phase: nd.Phase,
				V:     nd.V,
				I:     cur,
				S:     s,
			}
			bf.Loss += s
		}
		flows = append(flows, bf)
	}
	return flows, nil
}
