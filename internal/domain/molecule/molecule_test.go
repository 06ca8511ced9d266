package molecule

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

func water(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]string{"O", "H", "H"},
		Bond{A1: 0, A2: 1, Type: mtypes.BondSingle},
		Bond{A1: 0, A2: 2, Type: mtypes.BondSingle},
	)
	require.NoError(t, err)
	return g
}

func TestNewGraph_UnknownElement(t *testing.T) {
	_, err := NewGraph([]string{"C", "Qq"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestGraph_Validate(t *testing.T) {
	cases := []struct {
		name string
		g    *Graph
	}{
		{"nil", nil},
		{"self loop", &Graph{Atoms: []Atom{{Element: mtypes.C}}, Bonds: []Bond{{A1: 0, A2: 0}}}},
		{"out of range", &Graph{Atoms: []Atom{{Element: mtypes.C}}, Bonds: []Bond{{A1: 0, A2: 3}}}},
		{"bad element", &Graph{Atoms: []Atom{{Element: mtypes.ElementInvalid}}}},
		{"bad bond type", &Graph{Atoms: []Atom{{Element: mtypes.C}, {Element: mtypes.C}}, Bonds: []Bond{{A1: 0, A2: 1, Type: 9}}}},
		{"too many atoms", &Graph{Atoms: make([]Atom, MaxAtoms+1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.g.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidGraph))
		})
	}
}

func TestGraph_Navigation(t *testing.T) {
	g := water(t)
	assert.Equal(t, 2, g.Degree(0))
	assert.Equal(t, 1, g.Degree(1))
	assert.ElementsMatch(t, []int{1, 2}, g.Neighbors(0))
	assert.Equal(t, 1, g.FindBond(2, 0))
	assert.Equal(t, -1, g.FindBond(1, 2))
	assert.True(t, g.ContainsBondedAtoms(mtypes.H, mtypes.O))
	assert.False(t, g.ContainsBondedAtoms(mtypes.H, mtypes.H))
	assert.True(t, g.Connected())
	assert.Equal(t, 2, Bond{A1: 1, A2: 2}.Other(1))
}

func TestGraph_Connected(t *testing.T) {
	g := &Graph{Atoms: []Atom{{Element: mtypes.Na}, {Element: mtypes.Cl}}}
	assert.False(t, g.Connected())
	assert.True(t, (&Graph{}).Connected())
}

func TestGraph_Permute(t *testing.T) {
	g := water(t)
	p, err := g.Permute([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []mtypes.Element{mtypes.H, mtypes.O, mtypes.H}, p.Elements())
	// the oxygen moved to index 1; both bonds must follow it
	for _, b := range p.Bonds {
		assert.True(t, b.A1 == 1 || b.A2 == 1)
	}

	_, err = g.Permute([]int{0, 0, 1})
	assert.Error(t, err)
	_, err = g.Permute([]int{0, 1})
	assert.Error(t, err)
}

func TestGraph_CloneIsDeep(t *testing.T) {
	g := water(t)
	c := g.Clone()
	c.Atoms[0].Charge = -1
	c.Bonds[0].Type = mtypes.BondDouble
	assert.Zero(t, g.Atoms[0].Charge)
	assert.Equal(t, mtypes.BondSingle, g.Bonds[0].Type)
	assert.Nil(t, (*Graph)(nil).Clone())
}

func TestAtomsHash_OrderIndependent(t *testing.T) {
	a := AtomsHash([]mtypes.Element{mtypes.C, mtypes.H, mtypes.H, mtypes.O})
	b := AtomsHash([]mtypes.Element{mtypes.H, mtypes.O, mtypes.C, mtypes.H})
	c := AtomsHash([]mtypes.Element{mtypes.C, mtypes.H, mtypes.O, mtypes.O})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotZero(t, AtomsHash(nil))
}

func TestFormula_Orderings(t *testing.T) {
	ethanol := []mtypes.Element{mtypes.C, mtypes.C, mtypes.O, mtypes.H, mtypes.H, mtypes.H, mtypes.H, mtypes.H, mtypes.H}
	assert.Equal(t, "C2H6O", Formula(ethanol, mtypes.OrderingHill, false))
	assert.Equal(t, "C<sub>2</sub>H<sub>6</sub>O", Formula(ethanol, mtypes.OrderingHill, true))

	nitric := []mtypes.Element{mtypes.H, mtypes.N, mtypes.O, mtypes.O, mtypes.O}
	assert.Equal(t, "HNO3", Formula(nitric, mtypes.OrderingHydrogenFirstOxygenLast, false))

	salt := []mtypes.Element{mtypes.Cl, mtypes.Na}
	assert.Equal(t, "NaCl", Formula(salt, mtypes.OrderingElectronegativity, false))
	assert.Equal(t, "ClNa", Formula(salt, mtypes.OrderingElectronegativityReversed, false))
}

func TestFormatFormula(t *testing.T) {
	assert.Equal(t, "C<sub>6</sub>H<sub>12</sub>O<sub>6</sub>", FormatFormula("C6H12O6"))
	assert.Equal(t, "NaCl", FormatFormula("NaCl"))
}

func TestCAS_KnownNumbers(t *testing.T) {
	cases := map[string]uint32{
		"7732-18-5": 773218, // water
		"50-00-0":   5000,   // formaldehyde
		"64-17-5":   6417,   // ethanol
		"7647-14-5": 764714, // sodium chloride
	}
	for text, want := range cases {
		got, ok := ParseCAS(text)
		require.True(t, ok, text)
		assert.Equal(t, want, got, text)
		assert.Equal(t, text, FormatCAS(want, true))
	}
	assert.Equal(t, "7732185", FormatCAS(773218, false))
}

func TestCAS_Invalid(t *testing.T) {
	for _, s := range []string{"", "5", "7732-18-4", "77a2-18-5", "99999999999-00-0"} {
		_, ok := ParseCAS(s)
		assert.False(t, ok, s)
	}
	_, err := ParseCASStrict("7732-18-4")
	assert.True(t, errors.Is(err, ErrInvalidCAS))
}

func TestCAS_ZeroIsValid(t *testing.T) {
	n, ok := ParseCAS("0-00-0")
	assert.True(t, ok)
	assert.Zero(t, n)
}

func TestCAS_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		// 6 to 8 digit registry numbers including the check digit
		n := uint32(1000 + rng.IntN(9_999_999-1000))
		got, ok := ParseCAS(FormatCAS(n, true))
		require.True(t, ok, n)
		assert.Equal(t, n, got)
		got, ok = ParseCAS(FormatCAS(n, false))
		require.True(t, ok, n)
		assert.Equal(t, n, got)
	}
}

func TestUnifiedName(t *testing.T) {
	cases := map[string]string{
		"  water ":             "Water",
		"WATER":                "Water",
		"d-GLUCOSE":            "D-Glucose",
		"dl-alanine":           "DL-Alanine",
		"CIS-2-butene":         "cis-2-butene",
		"meta-xylene":          "meta-Xylene",
		"iron(ii) chloride":    "Iron(II) chloride",
		"iron(iii)chloride":    "Iron(III) chloride",
		"tert-butyl$apos;s":    "Tert-butyl's",
		"methyl$l^":            "Methyl",
		"sodium (2-oxo)":       "Sodium (2-oxo)",
		"":                     "",
		"x":                    "X",
	}
	for in, want := range cases {
		assert.Equal(t, want, UnifiedName(in), in)
	}
}

func TestRecord_HashesEqual(t *testing.T) {
	a := &Record{AtomsHash: 1, StructureHash: 2, StructureHashExact: 3}
	b := &Record{AtomsHash: 1, StructureHash: 2, StructureHashExact: 3}
	assert.True(t, a.HashesEqual(b))
	b.StructureHash = 0
	assert.False(t, a.HashesEqual(b))
	b.StructureHash = 5
	assert.False(t, a.HashesEqual(b))
}

func TestRecord_NamesEqual(t *testing.T) {
	assert.True(t, (&Record{Name: "water"}).NamesEqual(&Record{Name: " WATER"}))
	assert.False(t, (&Record{Name: ""}).NamesEqual(&Record{Name: ""}))
}

func TestRecord_MolecularFormula(t *testing.T) {
	r := &Record{Graph: water(t)}
	assert.Equal(t, "H2O", r.MolecularFormula(false))

	r.Flags = r.Flags.WithOrdering(mtypes.OrderingHydrogenFirstOxygenLast)
	assert.Equal(t, "H2O", r.MolecularFormula(false))

	r.Flags |= mtypes.HasChemicalFormula
	r.Formula = "H2O"
	assert.Equal(t, "H<sub>2</sub>O", r.MolecularFormula(true))

	assert.Empty(t, (&Record{}).MolecularFormula(false))
}

func TestRecord_SyncPayloadFlags(t *testing.T) {
	g := water(t)
	g.Atoms[0].Charge = -1
	r := &Record{Graph: g, Charge: -1}
	r.SyncPayloadFlags()
	assert.True(t, r.Flags.Has(mtypes.HasTopology|mtypes.HasAtomCharges|mtypes.HasParticleCharge))
	assert.False(t, r.Flags.Has(mtypes.HasRadicalAtoms))
	assert.Equal(t, mtypes.KindAnion, r.Kind())
	assert.Equal(t, -1, r.NetCharge())
}

func TestRecord_CloneAndShuffle(t *testing.T) {
	r := &Record{ID: 9, CAS: []uint32{773218}, Graph: water(t)}
	c := r.Clone()
	c.CAS[0] = 1
	assert.Equal(t, uint32(773218), r.CAS[0])
	assert.True(t, r.HasCAS(773218))

	rng := rand.New(rand.NewPCG(3, 4))
	perm := c.Shuffle(rng)
	require.Len(t, perm, 3)
	assert.Equal(t, AtomsHash(r.Graph.Elements()), c.Graph.AtomsHash())
	assert.NoError(t, c.Graph.Validate())
}

func TestGraph_ValenceErrors(t *testing.T) {
	g := water(t)
	assert.Empty(t, g.ValenceErrors())

	// pentavalent carbon
	bad, err := NewGraph([]string{"C", "H", "H", "H", "H", "H"},
		Bond{A1: 0, A2: 1}, Bond{A1: 0, A2: 2}, Bond{A1: 0, A2: 3}, Bond{A1: 0, A2: 4}, Bond{A1: 0, A2: 5})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, bad.ValenceErrors())

	// ammonium is fine once charged
	nh4, err := NewGraph([]string{"N", "H", "H", "H", "H"},
		Bond{A1: 0, A2: 1}, Bond{A1: 0, A2: 2}, Bond{A1: 0, A2: 3}, Bond{A1: 0, A2: 4})
	require.NoError(t, err)
	nh4.Atoms[0].Charge = 1
	assert.Empty(t, nh4.ValenceErrors())
}

func TestGraph_UniqueElements(t *testing.T) {
	assert.Equal(t, []mtypes.Element{mtypes.H, mtypes.O}, water(t).UniqueElements())
}

func TestApplyOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []QueryOption
		expected QueryOptions
	}{
		{name: "Default Options", expected: QueryOptions{}},
		{name: "Pagination", opts: []QueryOption{WithPagination(10, 50)}, expected: QueryOptions{Offset: 10, Limit: 50}},
		{name: "Max Limit Enforced", opts: []QueryOption{WithPagination(0, MaxPageSize+1)}, expected: QueryOptions{Limit: MaxPageSize}},
		{name: "Negative Values Corrected", opts: []QueryOption{WithPagination(-1, -5)}, expected: QueryOptions{}},
		{
			name:     "Filters",
			opts:     []QueryOption{WithNameFilter("ol"), WithAnyFlags(mtypes.ShowInExplorer)},
			expected: QueryOptions{NameKeyword: "ol", AnyFlags: mtypes.ShowInExplorer},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ApplyOptions(tt.opts...))
		})
	}
}
