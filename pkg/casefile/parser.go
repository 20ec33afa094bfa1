package casefile

import (
	"bufio"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/edp1096/toy-pflow/pkg/network"
)

type Case struct {
	Title    string
	Buses    []BusDef
	Branches []BranchDef
	Options  Options
	Sweep    *Sweep
}

// BusDef values are per phase; nil means zero.
type BusDef struct {
	Id     string
	Type   network.BusType
	Phases network.Phases
	V      []complex128
	Ys     []complex128
	Ic     []complex128
	S      []complex128
}

type BranchDef struct {
	Kind   string // LINE, ZLINE, BRANCH, CARSON
	Ids    [2]string
	Phases [2]network.Phases
	Y      [][]complex128 // primitive, 2n x 2n
}

// Options holds solver settings from .options. Zero values mean "not given".
type Options struct {
	Tol     float64
	MaxIter int
	Flat    bool
	Solver  string
}

// Sweep scales every PQ load from Start to Stop in Step increments.
type Sweep struct {
	Start, Stop, Step float64
}

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

const numPattern = `[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?(?:meg|[TGKkmunpf])?`

var (
	valueRe   = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)(meg|[TGKkmunpf])?$`)
	polarRe   = regexp.MustCompile(`^(` + numPattern + `)@(` + numPattern + `)$`)
	rectRe    = regexp.MustCompile(`^(` + numPattern + `)([-+]` + `\d*\.?\d+(?:[eE][-+]?\d+)?(?:meg|[TGKkmunpf])?` + `)[ij]$`)
	imagRe    = regexp.MustCompile(`^(` + numPattern + `)[ij]$`)
	spacingRe = regexp.MustCompile(`\s+`)
)

func ParseFile(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %v", err)
	}
	return Parse(string(data))
}

// Parse reads a case. The first line is the title. Lines starting with '*' are comments,
// text after '*' is ignored and lines starting with '+' continue the previous line.
func Parse(input string) (*Case, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	c := &Case{}

	if scanner.Scan() {
		c.Title = strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "*"))
	}

	var currentLine string
	lineNo, startNo := 1, 1

	flush := func() error {
		if currentLine == "" {
			return nil
		}
		err := parseLine(c, currentLine)
		currentLine = ""
		if err != nil {
			return fmt.Errorf("line %d: %w", startNo, err)
		}
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.Index(line, "*"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if len(line) == 0 {
			continue
		}

		if strings.HasPrefix(line, "+") {
			if currentLine == "" {
				return nil, fmt.Errorf("line %d: continuation without a statement", lineNo)
			}
			currentLine += " " + strings.TrimSpace(strings.TrimPrefix(line, "+"))
			continue
		}

		if err := flush(); err != nil {
			return nil, err
		}
		if strings.EqualFold(line, ".end") {
			break
		}
		currentLine = line
		startNo = lineNo
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading case: %v", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return c, nil
}

func parseLine(c *Case, line string) error {
	line = spacingRe.ReplaceAllString(line, " ")

	if strings.HasPrefix(line, ".") {
		return parseDotOperator(c, line)
	}

	fields := strings.Fields(line)
	switch kind := strings.ToUpper(fields[0]); kind {
	case "BUS":
		bus, err := parseBus(fields[1:])
		if err != nil {
			return err
		}
		c.Buses = append(c.Buses, *bus)
	case "LINE", "ZLINE", "BRANCH", "CARSON":
		br, err := parseBranch(kind, fields[1:])
		if err != nil {
			return err
		}
		c.Branches = append(c.Branches, *br)
	default:
		return fmt.Errorf("unknown statement: %s", fields[0])
	}
	return nil
}

// .options tol=1e-8 maxiter=20 flat solver=dense
// .sweep 0.5 2 0.1
// .title text
func parseDotOperator(c *Case, line string) error {
	fields := strings.Fields(line)

	switch strings.ToLower(fields[0]) {
	case ".title":
		c.Title = strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	case ".options", ".option":
		for _, field := range fields[1:] {
			key, val, hasValue := strings.Cut(field, "=")
			switch strings.ToLower(key) {
			case "tol":
				tol, err := ParseValue(val)
				if err != nil || tol <= 0 {
					return fmt.Errorf("invalid tol: %s", val)
				}
				c.Options.Tol = tol
			case "maxiter":
				n, err := strconv.Atoi(val)
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid maxiter: %s", val)
				}
				c.Options.MaxIter = n
			case "flat":
				c.Options.Flat = !hasValue || strings.EqualFold(val, "true") || val == "1"
			case "solver":
				c.Options.Solver = strings.ToLower(val)
			default:
				return fmt.Errorf("unknown option: %s", key)
			}
		}

	case ".sweep":
		if len(fields) != 4 {
			return fmt.Errorf(".sweep needs start stop step")
		}
		vals := make([]float64, 3)
		for i, f := range fields[1:] {
			v, err := ParseValue(f)
			if err != nil {
				return fmt.Errorf(".sweep: %v", err)
			}
			vals[i] = v
		}
		if vals[2] <= 0 || vals[1] < vals[0] {
			return fmt.Errorf(".sweep: invalid range %g to %g step %g", vals[0], vals[1], vals[2])
		}
		c.Sweep = &Sweep{Start: vals[0], Stop: vals[1], Step: vals[2]}

	default:
		return fmt.Errorf("unsupported control statement: %s", fields[0])
	}
	return nil
}

// BUS <id> <SL|PQ|PV> <phases> [v=..] [s=..] [ic=..] [ys=..]
func parseBus(fields []string) (*BusDef, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("bus needs id, type and phases")
	}

	typ, err := network.ParseBusType(fields[1])
	if err != nil {
		return nil, err
	}
	phases, err := network.ParsePhases(fields[2])
	if err != nil {
		return nil, fmt.Errorf("bus %s: %w", fields[0], err)
	}

	bus := &BusDef{Id: fields[0], Type: typ, Phases: phases}
	params, err := parseParams(fields[3:])
	if err != nil {
		return nil, fmt.Errorf("bus %s: %v", bus.Id, err)
	}

	for key, dst := range map[string]*[]complex128{"v": &bus.V, "s": &bus.S, "ic": &bus.Ic, "ys": &bus.Ys} {
		val, ok := params[key]
		if !ok {
			continue
		}
		*dst, err = parsePhaseValues(val, phases.Len())
		if err != nil {
			return nil, fmt.Errorf("bus %s %s: %v", bus.Id, key, err)
		}
		delete(params, key)
	}
	for key := range params {
		return nil, fmt.Errorf("bus %s: unknown parameter %s", bus.Id, key)
	}

	if bus.V == nil {
		bus.V = make([]complex128, phases.Len())
		for i := range bus.V {
			bus.V[i] = 1
		}
	}
	return bus, nil
}

// LINE   <id0> <id1> <phases0> <phases1> y=<per phase series admittance>
// ZLINE  <id0> <id1> <phases0> <phases1> z=<n*n series impedance, row major>
// BRANCH <id0> <id1> <phases0> <phases1> y=<2n*2n primitive, row major>
// CARSON <id0> <id1> <phases0> <phases1> d=<nw*nw spacing m> r=<nw ohm/m> len=<m> [freq=..] [rho=..] [ybase=..]
func parseBranch(kind string, fields []string) (*BranchDef, error) {
	if len(fields) < 4 {
		return nil, fmt.Errorf("%s needs two bus ids and two phase lists", strings.ToLower(kind))
	}

	br := &BranchDef{Kind: kind, Ids: [2]string{fields[0], fields[1]}}
	for i := 0; i < 2; i++ {
		ps, err := network.ParsePhases(fields[2+i])
		if err != nil {
			return nil, fmt.Errorf("%s %s-%s: %w", kind, fields[0], fields[1], err)
		}
		br.Phases[i] = ps
	}
	n := br.Phases[0].Len()

	params, err := parseParams(fields[4:])
	if err != nil {
		return nil, fmt.Errorf("%s %s-%s: %v", kind, fields[0], fields[1], err)
	}

	switch kind {
	case "LINE":
		y, err := parseList(params["y"], n)
		if err != nil {
			return nil, fmt.Errorf("line %s-%s y: %v", fields[0], fields[1], err)
		}
		br.Y = network.YSimpleLine(y)

	case "ZLINE":
		z, err := parseSquare(params["z"], n)
		if err != nil {
			return nil, fmt.Errorf("zline %s-%s z: %v", fields[0], fields[1], err)
		}
		if br.Y, err = network.ZLine2YNode(z); err != nil {
			return nil, fmt.Errorf("zline %s-%s: %w", fields[0], fields[1], err)
		}

	case "BRANCH":
		y, err := parseSquare(params["y"], 2*n)
		if err != nil {
			return nil, fmt.Errorf("branch %s-%s y: %v", fields[0], fields[1], err)
		}
		br.Y = y

	case "CARSON":
		y, err := parseCarson(params, n)
		if err != nil {
			return nil, fmt.Errorf("carson %s-%s: %w", fields[0], fields[1], err)
		}
		br.Y = y
	}
	return br, nil
}

// parseCarson builds the primitive of an overhead line. Conductors beyond the phase count are
// Kron reduced; ybase converts ohms to per unit admittance.
func parseCarson(params map[string]string, nPhase int) ([][]complex128, error) {
	r, err := parseReals(params["r"])
	if err != nil {
		return nil, fmt.Errorf("r: %v", err)
	}
	nWire := len(r)
	if nWire < nPhase {
		return nil, fmt.Errorf("%d conductors for %d phases", nWire, nPhase)
	}

	flat, err := parseReals(params["d"])
	if err != nil || len(flat) != nWire*nWire {
		return nil, fmt.Errorf("d needs %d spacings", nWire*nWire)
	}
	d := make([][]float64, nWire)
	for i := range d {
		d[i] = flat[i*nWire : (i+1)*nWire]
	}

	length, err := ParseValue(params["len"])
	if err != nil {
		return nil, fmt.Errorf("len: %v", err)
	}
	freq, rho, ybase := 0.0, 0.0, 1.0
	for key, dst := range map[string]*float64{"freq": &freq, "rho": &rho, "ybase": &ybase} {
		if val, ok := params[key]; ok {
			if *dst, err = ParseValue(val); err != nil {
				return nil, fmt.Errorf("%s: %v", key, err)
			}
		}
	}

	z, err := network.Carson(nWire, d, r, length, freq, rho)
	if err != nil {
		return nil, err
	}
	if z, err = network.Kron(z, nPhase); err != nil {
		return nil, err
	}
	y, err := network.ZLine2YNode(z)
	if err != nil {
		return nil, err
	}
	if ybase != 1 {
		for i := range y {
			for k := range y[i] {
				y[i][k] /= complex(ybase, 0)
			}
		}
	}
	return y, nil
}

func parseParams(fields []string) (map[string]string, error) {
	params := make(map[string]string)
	for _, field := range fields {
		key, val, ok := strings.Cut(field, "=")
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("expected key=value, got %q", field)
		}
		params[strings.ToLower(key)] = val
	}
	return params, nil
}

// parsePhaseValues accepts one value per phase or a single value used for every phase.
func parsePhaseValues(val string, n int) ([]complex128, error) {
	list, err := parseComplexList(val)
	if err != nil {
		return nil, err
	}
	if len(list) == 1 && n > 1 {
		for len(list) < n {
			list = append(list, list[0])
		}
	}
	if len(list) != n {
		return nil, fmt.Errorf("%d values for %d phases", len(list), n)
	}
	return list, nil
}

func parseList(val string, n int) ([]complex128, error) {
	if val == "" {
		return nil, fmt.Errorf("missing")
	}
	return parsePhaseValues(val, n)
}

func parseSquare(val string, n int) ([][]complex128, error) {
	if val == "" {
		return nil, fmt.Errorf("missing")
	}
	list, err := parseComplexList(val)
	if err != nil {
		return nil, err
	}
	if len(list) != n*n {
		return nil, fmt.Errorf("%d values, want %d", len(list), n*n)
	}
	out := make([][]complex128, n)
	for i := range out {
		out[i] = list[i*n : (i+1)*n]
	}
	return out, nil
}

func parseComplexList(val string) ([]complex128, error) {
	parts := strings.Split(val, ",")
	out := make([]complex128, len(parts))
	for i, part := range parts {
		v, err := ParseComplex(part)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseReals(val string) ([]float64, error) {
	if val == "" {
		return nil, fmt.Errorf("missing")
	}
	parts := strings.Split(val, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		v, err := ParseValue(part)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ParseValue reads a number with an optional SPICE scale suffix, e.g. 10k or 2.5meg.
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	if matches[2] != "" {
		multiplier, ok := unitMap[matches[2]]
		if !ok {
			return 0, fmt.Errorf("unknown unit suffix: %s", val)
		}
		num *= multiplier
	}

	return num, nil
}

// ParseComplex reads "a", "bj", "a+bj", "a-bj" or polar "mag@deg".
func ParseComplex(val string) (complex128, error) {
	val = strings.TrimSpace(val)

	if m := polarRe.FindStringSubmatch(val); m != nil {
		mag, err := ParseValue(m[1])
		if err != nil {
			return 0, err
		}
		deg, err := ParseValue(m[2])
		if err != nil {
			return 0, err
		}
		return cmplx.Rect(mag, deg*math.Pi/180), nil
	}

	if m := rectRe.FindStringSubmatch(val); m != nil {
		re, err := ParseValue(m[1])
		if err != nil {
			return 0, err
		}
		im, err := ParseValue(m[2])
		if err != nil {
			return 0, err
		}
		return complex(re, im), nil
	}

	if m := imagRe.FindStringSubmatch(val); m != nil {
		im, err := ParseValue(m[1])
		if err != nil {
			return 0, err
		}
		return complex(0, im), nil
	}

	re, err := ParseValue(val)
	if err != nil {
		return 0, fmt.Errorf("invalid complex value: %s", val)
	}
	return complex(re, 0), nil
}

// Build registers the case's buses and branches on a new network. The network is not validated.
func (c *Case) Build() (*network.Network, error) {
	net := network.New()
	for _, b := range c.Buses {
		if err := net.AddBus(b.Id, b.Type, b.Phases, b.V, b.Ys, b.Ic, b.S); err != nil {
			return nil, err
		}
	}
	for _, br := range c.Branches {
		if err := net.AddBranch(br.Ids[0], br.Ids[1], br.Phases[0], br.Phases[1], br.Y); err != nil {
			return nil, err
		}
	}
	return net, nil
}
