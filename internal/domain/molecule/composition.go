package molecule

import (
	"strconv"
	"strings"
	"unicode"

	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// composition counts atoms per element.
type composition [mtypes.ElementMax]uint16

func countElements(elements []mtypes.Element) *composition {
	var c composition
	for _, e := range elements {
		if e.Valid() {
			c[e]++
		}
	}
	return &c
}

// AtomsHash is the composition hash: equal for any two graphs with the same
// multiset of elements regardless of order or bonds.
func AtomsHash(elements []mtypes.Element) uint32 {
	c := countElements(elements)
	h := uint32(105943)
	for i := uint32(0); i < uint32(len(c)); i++ {
		h = 15486173*h + i
		h = 15489079*h + uint32(c[i])
	}
	return h
}

// AtomsHash returns the composition hash of the graph's atoms.
func (g *Graph) AtomsHash() uint32 {
	return AtomsHash(g.Elements())
}

// UniqueElements lists the distinct elements of the graph in electronegativity
// order.
func (g *Graph) UniqueElements() []mtypes.Element {
	c := countElements(g.Elements())
	var out []mtypes.Element
	for _, e := range mtypes.OrderingElectronegativity.Elements() {
		if c[e] > 0 {
			out = append(out, e)
		}
	}
	return out
}

const (
	subStart = "<sub>"
	subEnd   = "</sub>"
)

// Formula renders a molecular formula for elements in the given ordering.
// With formatted set, counts are wrapped in <sub> tags.
func Formula(elements []mtypes.Element, ordering mtypes.FormulaOrdering, formatted bool) string {
	c := countElements(elements)
	var sb strings.Builder
	for _, e := range ordering.Elements() {
		n := c[e]
		if n == 0 {
			continue
		}
		sb.WriteString(e.Symbol())
		if n > 1 {
			if formatted {
				sb.WriteString(subStart)
			}
			sb.WriteString(strconv.Itoa(int(n)))
			if formatted {
				sb.WriteString(subEnd)
			}
		}
	}
	return sb.String()
}

// FormatFormula wraps every digit run of a plain formula in <sub> tags:
// "C6H12O6" becomes "C<sub>6</sub>H<sub>12</sub>O<sub>6</sub>".
func FormatFormula(formula string) string {
	var sb strings.Builder
	inDigits := false
	for _, r := range formula {
		d := unicode.IsDigit(r)
		if d != inDigits {
			if d {
				sb.WriteString(subStart)
			} else {
				sb.WriteString(subEnd)
			}
			inDigits = d
		}
		sb.WriteRune(r)
	}
	if inDigits {
		sb.WriteString(subEnd)
	}
	return sb.String()
}
