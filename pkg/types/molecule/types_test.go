package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElement_SymbolRoundTrip(t *testing.T) {
	for e := H; e < ElementMax; e++ {
		sym := e.Symbol()
		require.NotEmpty(t, sym, "element %d", e)
		parsed, ok := ParseElement(sym)
		require.True(t, ok, sym)
		assert.Equal(t, e, parsed)
	}
}

func TestElement_KnownNumbers(t *testing.T) {
	assert.Equal(t, "C", Element(6).Symbol())
	assert.Equal(t, "Fe", Fe.Symbol())
	assert.Equal(t, "Og", Og.Symbol())
	assert.Equal(t, Element(119), ElementMax)
	assert.False(t, ElementInvalid.Valid())
	assert.False(t, ElementMax.Valid())
	assert.Equal(t, "Element(-1)", ElementInvalid.String())
}

func TestParseElement(t *testing.T) {
	e, ok := ParseElement(" cl ")
	assert.True(t, ok)
	assert.Equal(t, Cl, e)

	e, ok = ParseElement("D")
	assert.True(t, ok)
	assert.Equal(t, H, e)

	_, ok = ParseElement("Xx")
	assert.False(t, ok)
}

func TestKindOfCharge(t *testing.T) {
	assert.Equal(t, KindAnion, KindOfCharge(-2))
	assert.Equal(t, KindMolecule, KindOfCharge(0))
	assert.Equal(t, KindCation, KindOfCharge(1))
	assert.Equal(t, "cation", KindCation.String())
}

func TestBondType(t *testing.T) {
	assert.True(t, BondSingle.Valid())
	assert.True(t, BondUnknown.Valid())
	assert.False(t, BondType(7).Valid())
	assert.Equal(t, "double", BondDouble.String())
	assert.Equal(t, 3.0, BondTriple.Order())
	assert.Equal(t, 1.5, BondSingleAndDashed.Order())
}

func TestFlags_BitPositions(t *testing.T) {
	assert.Equal(t, Flags(1<<5), HasChemicalFormula)
	assert.Equal(t, Flags(1<<8), HasParticleCharge)
	assert.Equal(t, Flags(1<<11), HasRadicalAtoms)
	assert.Equal(t, Flags(1<<15), IncorrectValence)
}

func TestFlags_SetHasMatches(t *testing.T) {
	f := FlagsNone.Set(Has3D|HasTopology, true)
	assert.True(t, f.Has(Has3D))
	assert.True(t, f.Has(Has3D|HasTopology))
	assert.False(t, f.Has(Has3D|Has2D))
	assert.True(t, f.Any(GeometryFlags))
	assert.True(t, f.Matches(FlagsNone))
	assert.False(t, f.Matches(ShowInExplorer))

	f = f.Set(Has3D, false)
	assert.False(t, f.Has(Has3D))
}

func TestFlags_Ordering(t *testing.T) {
	cases := []struct {
		flags Flags
		want  FormulaOrdering
	}{
		{0, OrderingHill},
		{MolecularFormula2, OrderingHydrogenFirstOxygenLast},
		{MolecularFormula1, OrderingElectronegativity},
		{MolecularFormula1 | MolecularFormula2, OrderingElectronegativityReversed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.flags.Ordering())
		assert.Equal(t, tc.flags, (ShowInExplorer | tc.flags).WithOrdering(tc.want)&^ShowInExplorer)
	}
}

func TestFlags_StringAndParse(t *testing.T) {
	f := Has2D | ShowInExplorer
	assert.Equal(t, "Has2D|ShowInExplorer", f.String())
	parsed, ok := ParseFlags("has2d, ShowInExplorer")
	require.True(t, ok)
	assert.Equal(t, f, parsed)

	_, ok = ParseFlags("Bogus")
	assert.False(t, ok)
	none, ok := ParseFlags("None")
	assert.True(t, ok)
	assert.Equal(t, FlagsNone, none)
}

func TestOrderings_CoverAllElements(t *testing.T) {
	for _, o := range []FormulaOrdering{OrderingHill, OrderingHydrogenFirstOxygenLast, OrderingElectronegativity, OrderingElectronegativityReversed} {
		seq := o.Elements()
		assert.Len(t, seq, int(ElementMax)-1, o.String())
		seen := make(map[Element]bool)
		for _, e := range seq {
			assert.False(t, seen[e], "%s lists %s twice", o, e)
			seen[e] = true
		}
	}
	hill := OrderingHill.Elements()
	assert.Equal(t, []Element{C, H}, hill[:2])
	hydro := OrderingHydrogenFirstOxygenLast.Elements()
	assert.Equal(t, H, hydro[0])
	assert.Equal(t, O, hydro[len(hydro)-1])
	assert.Equal(t, Element(87), OrderingElectronegativity.Elements()[0])
	assert.Equal(t, He, OrderingElectronegativityReversed.Elements()[0])
}
