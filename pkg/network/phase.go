package network

import (
	"fmt"
	"math/bits"
	"strings"
)

// Phase is a single conductor label.
type Phase uint32

const (
	BAL Phase = 1 << iota // balanced or single phase
	A
	B
	C
	G // ground
	N // neutral, distinct from ground
	SP
	SM
	SN
)

var allPhases = []Phase{BAL, A, B, C, G, N, SP, SM, SN}

var phaseNames = map[Phase]string{
	BAL: "BAL",
	A:   "A",
	B:   "B",
	C:   "C",
	G:   "G",
	N:   "N",
	SP:  "SP",
	SM:  "SM",
	SN:  "SN",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "BAD"
}

func ParsePhase(s string) (Phase, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, p := range allPhases {
		if phaseNames[p] == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q: %w", s, ErrUnsupported)
}

// Phases is a set of phases. Iteration order is the fixed order BAL, A, B, C, G, N, SP, SM, SN
// regardless of how the set was built, so the i-th phase of a set is well defined.
type Phases uint32

func NewPhases(ps ...Phase) Phases {
	var mask Phases
	for _, p := range ps {
		mask |= Phases(p)
	}
	return mask
}

// ParsePhases reads "A|B|C" style lists.
func ParsePhases(s string) (Phases, error) {
	var mask Phases
	for _, part := range strings.Split(s, "|") {
		p, err := ParsePhase(part)
		if err != nil {
			return 0, err
		}
		if mask.Has(p) {
			return 0, fmt.Errorf("phase %s listed twice in %q: %w", p, s, ErrInvalidTopology)
		}
		mask |= Phases(p)
	}
	return mask, nil
}

func (ps Phases) Has(p Phase) bool { return ps&Phases(p) != 0 }

func (ps Phases) Len() int { return bits.OnesCount32(uint32(ps)) }

func (ps Phases) List() []Phase {
	list := make([]Phase, 0, ps.Len())
	for _, p := range allPhases {
		if ps.Has(p) {
			list = append(list, p)
		}
	}
	return list
}

// At returns the i-th phase of the set.
func (ps Phases) At(i int) Phase {
	for _, p := range allPhases {
		if ps.Has(p) {
			if i == 0 {
				return p
			}
			i--
		}
	}
	return 0
}

// Index returns the position of p within the set, or -1.
func (ps Phases) Index(p Phase) int {
	if !ps.Has(p) {
		return -1
	}
	return bits.OnesCount32(uint32(ps) & (uint32(p) - 1))
}

func (ps Phases) String() string {
	names := make([]string, 0, ps.Len())
	for _, p := range ps.List() {
		names = append(names, p.String())
	}
	return strings.Join(names, "|")
}
