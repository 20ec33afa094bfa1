package network

import (
	"fmt"
	"strings"
)

type BusType int

const (
	SL BusType = iota
	PQ
	PV
)

func (t BusType) String() string {
	switch t {
	case SL:
		return "SL"
	case PQ:
		return "PQ"
	case PV:
		return "PV"
	}
	return "BAD"
}

func ParseBusType(s string) (BusType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SL", "SLACK":
		return SL, nil
	case "PQ":
		return PQ, nil
	case "PV":
		return PV, nil
	}
	return 0, fmt.Errorf("bus type %q: %w", s, ErrUnsupported)
}

// Bus owns a contiguous range of the node arena, one node per phase in phase order.
type Bus struct {
	Id     string
	Type   BusType
	Phases Phases

	first int
	count int
}

// NodeIDs returns the arena ids of the bus's nodes.
func (b *Bus) NodeIDs() (first, count int) {
	return b.first, b.count
}

// Node is one phase of one bus. S and Ic are injections (generation positive).
type Node struct {
	Bus   int // position of the owning bus in registration order
	Phase Phase
	V     complex128
	S     complex128
	Ic    complex128
	Ys    complex128
	Index int // global index in the [SL | PQ | PV] layout, -1 until validated
}
