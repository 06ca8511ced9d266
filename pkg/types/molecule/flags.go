package molecule

import "strings"

// Flags is the 16-bit property set stored with every record.
type Flags uint16

const (
	Has3D Flags = 1 << iota
	Has2D
	HasTopology
	PrimarilyFlat
	HasSkeletalFormula
	HasChemicalFormula
	ShowInExplorer
	ShowInConstructor
	HasParticleCharge
	HasAtomCharges
	ForceIncludeInBuild
	HasRadicalAtoms
	NameIsIUPAC
	MolecularFormula1
	MolecularFormula2
	IncorrectValence

	FlagsNone Flags = 0

	// GeometryFlags are the position sets a payload may carry.
	GeometryFlags = Has3D | Has2D

	// DefaultInclude is the publish predicate used when the caller supplies none.
	DefaultInclude = ForceIncludeInBuild | ShowInConstructor | ShowInExplorer

	orderingMask = MolecularFormula1 | MolecularFormula2
)

var flagNames = []string{
	"Has3D", "Has2D", "HasTopology", "PrimarilyFlat", "HasSkeletalFormula",
	"HasChemicalFormula", "ShowInExplorer", "ShowInConstructor",
	"HasParticleCharge", "HasAtomCharges", "ForceIncludeInBuild",
	"HasRadicalAtoms", "NameIsIUPAC", "MolecularFormula1", "MolecularFormula2",
	"IncorrectValence",
}

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether at least one bit of mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// Set returns f with mask switched on or off.
func (f Flags) Set(mask Flags, on bool) Flags {
	if on {
		return f | mask
	}
	return f &^ mask
}

// Matches is the query filter rule: every bit of filter must be present.
func (f Flags) Matches(filter Flags) bool { return f&filter == filter }

// Ordering decodes the two formula-ordering bits.
func (f Flags) Ordering() FormulaOrdering {
	one := f&MolecularFormula1 != 0
	two := f&MolecularFormula2 != 0
	switch {
	case !one && !two:
		return OrderingHill
	case !one && two:
		return OrderingHydrogenFirstOxygenLast
	case one && !two:
		return OrderingElectronegativity
	default:
		return OrderingElectronegativityReversed
	}
}

// WithOrdering returns f with the formula-ordering bits replaced.
func (f Flags) WithOrdering(o FormulaOrdering) Flags {
	f &^= orderingMask
	switch o {
	case OrderingHydrogenFirstOxygenLast:
		f |= MolecularFormula2
	case OrderingElectronegativity:
		f |= MolecularFormula1
	case OrderingElectronegativityReversed:
		f |= MolecularFormula1 | MolecularFormula2
	}
	return f
}

// String lists the set flag names joined by "|".
func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlags accepts names produced by String, separated by "|" or ",".
func ParseFlags(s string) (Flags, bool) {
	var f Flags
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return 0, true
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		found := false
		for i, name := range flagNames {
			if strings.EqualFold(name, part) {
				f |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}

// ─────────────────────────────────────────────────────────────────────────────
// FormulaOrdering
// ─────────────────────────────────────────────────────────────────────────────

// FormulaOrdering selects the element order used to print a molecular formula.
type FormulaOrdering uint8

const (
	// OrderingHill puts carbon, then hydrogen, then everything alphabetically.
	OrderingHill FormulaOrdering = iota
	// OrderingHydrogenFirstOxygenLast is used for acids and hydroxides (HNO3).
	OrderingHydrogenFirstOxygenLast
	// OrderingElectronegativity sorts by increasing Pauling electronegativity.
	OrderingElectronegativity
	// OrderingElectronegativityReversed sorts by decreasing electronegativity.
	OrderingElectronegativityReversed
)

func (o FormulaOrdering) String() string {
	switch o {
	case OrderingHydrogenFirstOxygenLast:
		return "h_alphabetical_o"
	case OrderingElectronegativity:
		return "electronegativity"
	case OrderingElectronegativityReversed:
		return "electronegativity_reversed"
	default:
		return "hill"
	}
}
