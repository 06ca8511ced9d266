// Package molfile reads MDL V2000 molfiles and SD files into molecular
// graphs. Only the connection table, the CHG and RAD properties and SD data
// items are interpreted; query features, stereo and V3000 are rejected or
// ignored.
package molfile

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

var (
	ErrParse          = errors.New(errors.ErrCodeMolfileParse, "molfile parse error")
	ErrUnknownElement = errors.New(errors.ErrCodeInvalidElement, "unknown element symbol")
)

// Molecule is one connection table with its header and SD data items.
type Molecule struct {
	Name    string
	Program string
	Comment string
	Graph   *molecule.Graph
	// Dimension is 3 when the header declares 3-D coordinates or any atom has
	// a non-zero z, 2 for planar coordinates and 0 when every coordinate is 0.
	Dimension int
	// Data holds SD data items. The first item of a given name wins.
	Data map[string]string
	// Line is the 1-based line of the header within the source.
	Line int
}

// Parse reads a single molfile.
func Parse(r io.Reader) (*Molecule, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	var lines []string
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == sdfTerminator {
			break
		}
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMolfileParse, "read molfile")
	}
	return parseBlock(lines, 1)
}

// ParseString reads a single molfile held in memory.
func ParseString(s string) (*Molecule, error) {
	return Parse(strings.NewReader(s))
}

// field returns line[from:to] trimmed, tolerating short lines.
func field(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return strings.TrimSpace(line[from:to])
}

func intField(line string, from, to int) (int, bool) {
	s := field(line, from, to)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func floatField(line string, from, to int) (float32, bool) {
	s := field(line, from, to)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err == nil
}

// atomBlockCharges maps the ccc column of the atom block to a charge and a
// radical electron count.
var atomBlockCharges = [8]struct{ charge, radical int8 }{
	{0, 0}, {3, 0}, {2, 0}, {1, 0}, {0, 1}, {-1, 0}, {-2, 0}, {-3, 0},
}

// radicalElectrons maps RAD values (singlet, doublet, triplet) to the number
// of electrons unavailable for bonding.
var radicalElectrons = map[int]int8{0: 0, 1: 2, 2: 1, 3: 2}

var bondTypes = map[int]mtypes.BondType{
	1: mtypes.BondSingle,
	2: mtypes.BondDouble,
	3: mtypes.BondTriple,
	4: mtypes.BondSingleAndDashed,
}

func parseErr(line int, format string, args ...interface{}) error {
	return ErrParse.WithDetailf("line %d: "+format, append([]interface{}{line}, args...)...)
}

// parseBlock parses one molfile. first is the line number of lines[0].
func parseBlock(lines []string, first int) (*Molecule, error) {
	if len(lines) < 4 {
		return nil, parseErr(first, "truncated header")
	}
	m := &Molecule{
		Name:    strings.TrimSpace(lines[0]),
		Program: lines[1],
		Comment: strings.TrimSpace(lines[2]),
		Line:    first,
	}
	counts := lines[3]
	countsLine := first + 3
	if strings.Contains(counts, "V3000") {
		return nil, parseErr(countsLine, "V3000 connection tables are not supported")
	}
	natoms, ok1 := intField(counts, 0, 3)
	nbonds, ok2 := intField(counts, 3, 6)
	if !ok1 || !ok2 || natoms < 0 || nbonds < 0 {
		return nil, parseErr(countsLine, "invalid counts line %q", counts)
	}
	if natoms > molecule.MaxAtoms || nbonds > molecule.MaxBonds {
		return nil, parseErr(countsLine, "%d atoms, %d bonds exceed the supported size", natoms, nbonds)
	}
	if len(lines) < 4+natoms+nbonds {
		return nil, parseErr(countsLine, "expected %d atom and %d bond lines", natoms, nbonds)
	}

	g := &molecule.Graph{Atoms: make([]molecule.Atom, natoms), Bonds: make([]molecule.Bond, 0, nbonds)}
	declared3D := field(m.Program, 20, 22) == "3D"
	var nonZeroZ, nonZero bool
	for i := 0; i < natoms; i++ {
		line := lines[4+i]
		at := first + 4 + i
		x, okx := floatField(line, 0, 10)
		y, oky := floatField(line, 10, 20)
		z, okz := floatField(line, 20, 30)
		if !okx || !oky || !okz {
			return nil, parseErr(at, "invalid coordinates")
		}
		sym := field(line, 31, 34)
		e, ok := mtypes.ParseElement(sym)
		if !ok {
			return nil, ErrUnknownElement.WithDetailf("line %d: %q", at, sym)
		}
		code, ok := intField(line, 36, 39)
		if !ok || code < 0 || code >= len(atomBlockCharges) {
			return nil, parseErr(at, "invalid charge code")
		}
		g.Atoms[i] = molecule.Atom{
			Element:  e,
			Position: molecule.Vec3{x, y, z},
			Flat:     molecule.Vec2{x, y},
			Charge:   atomBlockCharges[code].charge,
			Radical:  atomBlockCharges[code].radical,
		}
		nonZero = nonZero || x != 0 || y != 0 || z != 0
		nonZeroZ = nonZeroZ || z != 0
	}
	switch {
	case !nonZero:
		m.Dimension = 0
	case declared3D || nonZeroZ:
		m.Dimension = 3
	default:
		m.Dimension = 2
	}

	for i := 0; i < nbonds; i++ {
		line := lines[4+natoms+i]
		at := first + 4 + natoms + i
		a1, ok1 := intField(line, 0, 3)
		a2, ok2 := intField(line, 3, 6)
		t, ok3 := intField(line, 6, 9)
		if !ok1 || !ok2 || !ok3 {
			return nil, parseErr(at, "invalid bond line")
		}
		if a1 < 1 || a1 > natoms || a2 < 1 || a2 > natoms || a1 == a2 {
			return nil, parseErr(at, "bond endpoints %d-%d out of range", a1, a2)
		}
		bt, ok := bondTypes[t]
		if !ok {
			return nil, parseErr(at, "unsupported bond type %d", t)
		}
		g.Bonds = append(g.Bonds, molecule.Bond{A1: uint8(a1 - 1), A2: uint8(a2 - 1), Type: bt})
	}

	rest := lines[4+natoms+nbonds:]
	restFirst := first + 4 + natoms + nbonds
	end, err := parseProperties(g, rest, restFirst)
	if err != nil {
		return nil, err
	}
	if m.Data, err = parseData(rest[end:], restFirst+end); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	m.Graph = g
	return m, nil
}

// parseProperties applies CHG and RAD lines and returns the index following
// "M  END". The first CHG or RAD line resets every charge and radical set by
// the atom block.
func parseProperties(g *molecule.Graph, lines []string, first int) (int, error) {
	reset := false
	for i, line := range lines {
		at := first + i
		if strings.HasPrefix(line, "M  END") {
			return i + 1, nil
		}
		if strings.HasPrefix(line, ">") {
			return i, nil
		}
		if !strings.HasPrefix(line, "M  CHG") && !strings.HasPrefix(line, "M  RAD") {
			continue
		}
		if !reset {
			for j := range g.Atoms {
				g.Atoms[j].Charge, g.Atoms[j].Radical = 0, 0
			}
			reset = true
		}
		fields := strings.Fields(line[6:])
		if len(fields) == 0 {
			return 0, parseErr(at, "empty property")
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 || len(fields) != 1+2*n {
			return 0, parseErr(at, "malformed property %q", line)
		}
		for k := 0; k < n; k++ {
			atom, err1 := strconv.Atoi(fields[1+2*k])
			val, err2 := strconv.Atoi(fields[2+2*k])
			if err1 != nil || err2 != nil || atom < 1 || atom > len(g.Atoms) {
				return 0, parseErr(at, "malformed property %q", line)
			}
			a := &g.Atoms[atom-1]
			if strings.HasPrefix(line, "M  CHG") {
				if val < -15 || val > 15 {
					return 0, parseErr(at, "charge %d out of range", val)
				}
				a.Charge = int8(val)
			} else {
				r, ok := radicalElectrons[val]
				if !ok {
					return 0, parseErr(at, "radical %d out of range", val)
				}
				a.Radical = r
			}
		}
	}
	return len(lines), nil
}

// parseData reads SD data items: a "> <NAME>" header followed by value lines
// up to a blank line.
func parseData(lines []string, first int) (map[string]string, error) {
	var data map[string]string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, ">") {
			continue
		}
		open := strings.IndexByte(line, '<')
		end := strings.LastIndexByte(line, '>')
		if open < 0 || end <= open {
			return nil, parseErr(first+i, "malformed data header %q", line)
		}
		name := line[open+1 : end]
		var value []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			i++
			value = append(value, strings.TrimRight(lines[i], " \t\r"))
		}
		if data == nil {
			data = make(map[string]string)
		}
		if _, dup := data[name]; !dup {
			data[name] = strings.Join(value, "\n")
		}
	}
	return data, nil
}
