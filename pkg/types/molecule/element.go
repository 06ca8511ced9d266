// Package molecule defines the value types shared by every layer of molident:
// chemical elements, bond orders, record flags and formula orderings. Nothing
// here depends on other molident packages.
package molecule

import (
	"fmt"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Element
// ─────────────────────────────────────────────────────────────────────────────

// Element is a periodic-table entry identified by its atomic number. It is
// persisted as a single byte.
type Element int16

const (
	ElementInvalid Element = -1

	H  Element = 1
	He Element = 2
	Li Element = 3
	Be Element = 4
	B  Element = 5
	C  Element = 6
	N  Element = 7
	O  Element = 8
	F  Element = 9
	Ne Element = 10
	Na Element = 11
	Mg Element = 12
	Al Element = 13
	Si Element = 14
	P  Element = 15
	S  Element = 16
	Cl Element = 17
	Ar Element = 18
	K  Element = 19
	Ca Element = 20
	Fe Element = 26
	Cu Element = 29
	Zn Element = 30
	Br Element = 35
	Ag Element = 47
	I  Element = 53
	Au Element = 79
	Hg Element = 80
	Pb Element = 82
	U  Element = 92
	Og Element = 118

	// ElementMax is one past the heaviest known element; per-element tables
	// are sized with it.
	ElementMax Element = 119
)

var symbols = [ElementMax]string{
	"",
	"H", "He",
	"Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
	"K", "Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn", "Ga", "Ge", "As", "Se", "Br", "Kr",
	"Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn", "Sb", "Te", "I", "Xe",
	"Cs", "Ba",
	"La", "Ce", "Pr", "Nd", "Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb", "Lu",
	"Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg", "Tl", "Pb", "Bi", "Po", "At", "Rn",
	"Fr", "Ra",
	"Ac", "Th", "Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es", "Fm", "Md", "No", "Lr",
	"Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds", "Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

var bySymbol = func() map[string]Element {
	m := make(map[string]Element, len(symbols))
	for i := 1; i < len(symbols); i++ {
		m[strings.ToLower(symbols[i])] = Element(i)
	}
	return m
}()

// Valid reports whether e is a known element (H through Og).
func (e Element) Valid() bool {
	return e >= H && e < ElementMax
}

// Symbol returns the IUPAC symbol, or "" for invalid values.
func (e Element) Symbol() string {
	if !e.Valid() {
		return ""
	}
	return symbols[e]
}

// String implements fmt.Stringer.
func (e Element) String() string {
	if !e.Valid() {
		return fmt.Sprintf("Element(%d)", int16(e))
	}
	return symbols[e]
}

// ParseElement resolves a symbol case-insensitively. "D" and "T" are read as
// hydrogen isotopes.
func ParseElement(symbol string) (Element, bool) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	switch s {
	case "d", "t":
		return H, true
	}
	e, ok := bySymbol[s]
	if !ok {
		return ElementInvalid, false
	}
	return e, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Kind
// ─────────────────────────────────────────────────────────────────────────────

// Kind classifies a record by its net charge.
type Kind uint8

const (
	KindCompound Kind = iota
	KindMolecule
	KindCation
	KindAnion
)

func (k Kind) String() string {
	switch k {
	case KindMolecule:
		return "molecule"
	case KindCation:
		return "cation"
	case KindAnion:
		return "anion"
	default:
		return "compound"
	}
}

// KindOfCharge maps a net charge to Molecule, Cation or Anion.
func KindOfCharge(charge int8) Kind {
	switch {
	case charge < 0:
		return KindAnion
	case charge > 0:
		return KindCation
	default:
		return KindMolecule
	}
}
