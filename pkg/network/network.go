package network

import (
	"fmt"
	"io"
	"math/cmplx"
	"slices"

	"github.com/edp1096/toy-pflow/pkg/matrix"
	"golang.org/x/exp/maps"
)

// Layout holds the global node indices of each group. Indices are assigned SL first, then PQ, then PV.
type Layout struct {
	SL []int
	PQ []int
	PV []int
}

func (l Layout) Size() int { return len(l.SL) + len(l.PQ) + len(l.PV) }

// Network is the flattened per-phase model handed to the power flow solver.
// Node pointers returned by accessors stay valid until the next AddBus or Reset.
type Network struct {
	busses   []Bus
	busIndex map[string]int
	branches []Branch
	nodes    []Node

	order     []int // global index -> node arena id
	layout    Layout
	y         *matrix.Admittance
	validated bool
}

func New() *Network {
	return &Network{
		busIndex: make(map[string]int),
	}
}

// AddBus registers a bus with one node per phase. v, ys, ic and s are given per phase in phase order.
func (n *Network) AddBus(id string, typ BusType, phases Phases, v, ys, ic, s []complex128) error {
	if _, exists := n.busIndex[id]; exists {
		return fmt.Errorf("bus %q already registered: %w", id, ErrInvalidTopology)
	}
	if typ != SL && typ != PQ && typ != PV {
		return fmt.Errorf("bus %q: type %d: %w", id, int(typ), ErrUnsupported)
	}
	nPhase := phases.Len()
	if nPhase == 0 {
		return fmt.Errorf("bus %q has no phases: %w", id, ErrInvalidTopology)
	}
	for name, vals := range map[string][]complex128{"V": v, "ys": ys, "Ic": ic, "S": s} {
		if vals != nil && len(vals) != nPhase {
			return fmt.Errorf("bus %q: %s has %d values for %d phases: %w", id, name, len(vals), nPhase, ErrInvalidTopology)
		}
	}

	n.invalidate()

	busIdx := len(n.busses)
	n.busIndex[id] = busIdx
	n.busses = append(n.busses, Bus{
		Id:     id,
		Type:   typ,
		Phases: phases,
		first:  len(n.nodes),
		count:  nPhase,
	})

	for i, p := range phases.List() {
		n.nodes = append(n.nodes, Node{
			Bus:   busIdx,
			Phase: p,
			V:     at(v, i),
			S:     at(s, i),
			Ic:    at(ic, i),
			Ys:    at(ys, i),
			Index: -1,
		})
	}
	return nil
}

func at(vals []complex128, i int) complex128 {
	if vals == nil {
		return 0
	}
	return vals[i]
}

// AddBranch registers a branch. Bus ids are resolved by Validate.
func (n *Network) AddBranch(id0, id1 string, phases0, phases1 Phases, y [][]complex128) error {
	br := Branch{
		Ids:    [2]string{id0, id1},
		Phases: [2]Phases{phases0, phases1},
		Y:      y,
	}
	if err := br.check(); err != nil {
		return err
	}

	n.invalidate()
	n.branches = append(n.branches, br)
	return nil
}

func (n *Network) Reset() {
	n.invalidate()
	n.busses = nil
	n.busIndex = make(map[string]int)
	n.branches = nil
	n.nodes = nil
}

func (n *Network) invalidate() {
	if n.y != nil {
		n.y.Destroy()
		n.y = nil
	}
	n.order = nil
	n.layout = Layout{}
	n.validated = false
	for i := range n.nodes {
		n.nodes[i].Index = -1
	}
}

// Validate classifies nodes, assigns global indices and assembles Y. Any previous layout is discarded.
func (n *Network) Validate() error {
	n.invalidate()

	if err := n.classify(); err != nil {
		n.invalidate()
		return err
	}

	y, err := n.assemble()
	if err != nil {
		n.invalidate()
		return err
	}
	n.y = y

	if err := n.checkConnectivity(); err != nil {
		n.invalidate()
		return err
	}

	n.validated = true
	return nil
}

func (n *Network) classify() error {
	var sl, pq, pv []int

	for _, id := range n.sortedIDs() {
		bus := &n.busses[n.busIndex[id]]
		for k := bus.first; k < bus.first+bus.count; k++ {
			switch bus.Type {
			case SL:
				sl = append(sl, k)
			case PQ:
				pq = append(pq, k)
			case PV:
				pv = append(pv, k)
			default:
				return fmt.Errorf("bus %q: type %s: %w", id, bus.Type, ErrUnsupported)
			}
		}
	}

	if len(sl) == 0 {
		return fmt.Errorf("no slack bus: %w", ErrInvalidTopology)
	}

	n.order = make([]int, 0, len(n.nodes))
	for _, group := range []struct {
		ids []int
		dst *[]int
	}{
		{sl, &n.layout.SL},
		{pq, &n.layout.PQ},
		{pv, &n.layout.PV},
	} {
		for _, k := range group.ids {
			idx := len(n.order)
			n.nodes[k].Index = idx
			n.order = append(n.order, k)
			*group.dst = append(*group.dst, idx)
		}
	}
	return nil
}

func (n *Network) assemble() (*matrix.Admittance, error) {
	y, err := matrix.NewAdmittance(len(n.order))
	if err != nil {
		return nil, err
	}

	for b := range n.branches {
		if err := n.stampBranch(y, &n.branches[b]); err != nil {
			y.Destroy()
			return nil, err
		}
	}

	for _, k := range n.order {
		nd := &n.nodes[k]
		if nd.Ys != 0 {
			y.AddComplexElement(nd.Index, nd.Index, nd.Ys)
		}
	}

	y.Compile()
	return y, nil
}

func (n *Network) stampBranch(s matrix.Stamper, br *Branch) error {
	terms, err := n.terminals(br)
	if err != nil {
		return err
	}

	for i := range terms {
		for k := range terms {
			if br.Y[i][k] != 0 {
				s.AddComplexElement(terms[i].Index, terms[k].Index, br.Y[i][k])
			}
		}
	}
	return nil
}

// Terminals returns the nodes at the 2n terminals of br, in primitive order.
func (n *Network) Terminals(br *Branch) ([]*Node, error) {
	if !n.validated {
		return nil, ErrNotValidated
	}
	return n.terminals(br)
}

func (n *Network) terminals(br *Branch) ([]*Node, error) {
	nTerm := 2 * br.NPhase()
	terms := make([]*Node, nTerm)

	for i := 0; i < nTerm; i++ {
		side, phase := br.terminal(i)
		busIdx, ok := n.busIndex[br.Ids[side]]
		if !ok {
			return nil, fmt.Errorf("branch %s: unknown bus %q: %w", br, br.Ids[side], ErrInvalidTopology)
		}
		bus := &n.busses[busIdx]
		phaseIdx := bus.Phases.Index(phase)
		if phaseIdx < 0 {
			return nil, fmt.Errorf("branch %s: bus %q has no phase %s: %w", br, bus.Id, phase, ErrInvalidTopology)
		}
		terms[i] = &n.nodes[bus.first+phaseIdx]
	}
	return terms, nil
}

// checkConnectivity requires every node to be reachable from a slack node through nonzero off-diagonal admittance.
func (n *Network) checkConnectivity() error {
	size := len(n.order)
	seen := make([]bool, size)
	queue := make([]int, 0, size)
	for _, i := range n.layout.SL {
		seen[i] = true
		queue = append(queue, i)
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, e := range n.y.Row(i) {
			if e.Col != i && e.Value != 0 && !seen[e.Col] {
				seen[e.Col] = true
				queue = append(queue, e.Col)
			}
		}
	}

	for i, ok := range seen {
		if !ok {
			nd := &n.nodes[n.order[i]]
			return fmt.Errorf("bus %q phase %s is not connected to a slack bus: %w",
				n.busses[nd.Bus].Id, nd.Phase, ErrInvalidTopology)
		}
	}
	return nil
}

func (n *Network) sortedIDs() []string {
	ids := maps.Keys(n.busIndex)
	slices.Sort(ids)
	return ids
}

func (n *Network) IsValidated() bool { return n.validated }

// Y returns the assembled admittance matrix, indexed by global node index.
func (n *Network) Y() (*matrix.Admittance, error) {
	if !n.validated {
		return nil, ErrNotValidated
	}
	return n.y, nil
}

func (n *Network) Layout() (Layout, error) {
	if !n.validated {
		return Layout{}, ErrNotValidated
	}
	return n.layout, nil
}

// Busses returns the registered busses sorted by id.
func (n *Network) Busses() []*Bus {
	out := make([]*Bus, 0, len(n.busses))
	for _, id := range n.sortedIDs() {
		out = append(out, &n.busses[n.busIndex[id]])
	}
	return out
}

// Branches returns the registered branches in insertion order.
func (n *Network) Branches() []*Branch {
	out := make([]*Branch, len(n.branches))
	for i := range n.branches {
		out[i] = &n.branches[i]
	}
	return out
}

func (n *Network) Bus(id string) (*Bus, bool) {
	idx, ok := n.busIndex[id]
	if !ok {
		return nil, false
	}
	return &n.busses[idx], true
}

// BusOf returns the bus owning nd.
func (n *Network) BusOf(nd *Node) *Bus {
	return &n.busses[nd.Bus]
}

// BusNodes returns the nodes of b in phase order.
func (n *Network) BusNodes(b *Bus) []*Node {
	out := make([]*Node, b.count)
	for i := range out {
		out[i] = &n.nodes[b.first+i]
	}
	return out
}

// Nodes returns every node in layout order. Before Validate the order is registration order.
func (n *Network) Nodes() []*Node {
	out := make([]*Node, len(n.nodes))
	if !n.validated {
		for i := range n.nodes {
			out[i] = &n.nodes[i]
		}
		return out
	}
	for i, k := range n.order {
		out[i] = &n.nodes[k]
	}
	return out
}

// Node returns the node at global index idx.
func (n *Network) Node(idx int) *Node {
	if !n.validated || idx < 0 || idx >= len(n.order) {
		return nil
	}
	return &n.nodes[n.order[idx]]
}

func (n *Network) Print(w io.Writer) {
	fmt.Fprintf(w, "\nNodes (%d):\n", len(n.nodes))
	fmt.Fprintf(w, "%6s %-10s %-4s %-5s %22s %22s %22s %22s\n", "idx", "bus", "type", "phase", "V", "S", "Ic", "ys")
	for _, nd := range n.Nodes() {
		bus := n.BusOf(nd)
		fmt.Fprintf(w, "%6d %-10s %-4s %-5s %22s %22s %22s %22s\n",
			nd.Index, bus.Id, bus.Type, nd.Phase,
			formatComplex(nd.V), formatComplex(nd.S), formatComplex(nd.Ic), formatComplex(nd.Ys))
	}

	fmt.Fprintf(w, "\nBranches (%d):\n", len(n.branches))
	for _, br := range n.branches {
		fmt.Fprintf(w, "  %s\n", br.String())
		for _, row := range br.Y {
			fmt.Fprint(w, "   ")
			for _, v := range row {
				fmt.Fprintf(w, " %22s", formatComplex(v))
			}
			fmt.Fprintln(w)
		}
	}

	if n.validated {
		fmt.Fprintln(w)
		n.y.Print(w)
	}
}

func formatComplex(v complex128) string {
	if cmplx.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.6g%+.6gj", real(v), imag(v))
}
