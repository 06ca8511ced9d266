package registry

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

func bond(a1, a2 uint8, t mtypes.BondType) molecule.Bond {
	return molecule.Bond{A1: a1, A2: a2, Type: t}
}

func newRecord(t *testing.T, name string, flags mtypes.Flags, symbols []string, bonds ...molecule.Bond) *molecule.Record {
	t.Helper()
	g, err := molecule.NewGraph(symbols, bonds...)
	require.NoError(t, err)
	return &molecule.Record{Name: name, Flags: flags, Graph: g}
}

func water(t *testing.T, flags mtypes.Flags) *molecule.Record {
	return newRecord(t, "water", flags, []string{"O", "H", "H"},
		bond(0, 1, mtypes.BondSingle), bond(0, 2, mtypes.BondSingle))
}

func ethanol(t *testing.T) *molecule.Record {
	return newRecord(t, "ethanol", mtypes.Has3D, []string{"C", "C", "O", "H", "H", "H", "H", "H", "H"},
		bond(0, 1, mtypes.BondSingle), bond(1, 2, mtypes.BondSingle),
		bond(0, 3, mtypes.BondSingle), bond(0, 4, mtypes.BondSingle), bond(0, 5, mtypes.BondSingle),
		bond(1, 6, mtypes.BondSingle), bond(1, 7, mtypes.BondSingle), bond(2, 8, mtypes.BondSingle))
}

func hcn(t *testing.T, cn mtypes.BondType, flags mtypes.Flags) *molecule.Record {
	return newRecord(t, "hydrogen cyanide", flags, []string{"H", "C", "N"},
		bond(0, 1, mtypes.BondSingle), bond(1, 2, cn))
}

// water2D returns water with shuffled atoms and distinct 2-D positions.
func water2D(t *testing.T, seed uint64) *molecule.Record {
	r := water(t, mtypes.Has2D)
	r.Name = "Dihydrogen oxide"
	r.CAS = []uint32{1000}
	r.Shuffle(rand.New(rand.NewPCG(seed, seed)))
	for i := range r.Graph.Atoms {
		r.Graph.Atoms[i].Flat = molecule.Vec2{float32(i + 1), float32(10 * (i + 1))}
	}
	return r
}

func newTestImporter(t *testing.T, opts ImportOptions) *Importer {
	t.Helper()
	x, err := catalog.New()
	require.NoError(t, err)
	return NewImporter(x, opts, nil, WithRand(rand.New(rand.NewPCG(1, 2))))
}

type recordingMerges struct{ outcomes []string }

func (r *recordingMerges) ObserveMerge(result string) { r.outcomes = append(r.outcomes, result) }

func TestImporter_InsertsAndMergesDuplicates(t *testing.T) {
	for _, checkpoint := range []int{1, 10} {
		t.Run("", func(t *testing.T) {
			opts := DefaultImportOptions()
			opts.Checkpoint = checkpoint
			im := newTestImporter(t, opts)

			w3 := water(t, mtypes.Has3D|mtypes.ShowInExplorer)
			w3.CAS = []uint32{773218}
			w2 := water2D(t, 7)
			stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{w3, ethanol(t), w2}))
			require.NoError(t, err)

			assert.Equal(t, 2, stats[OutcomeInserted])
			assert.Equal(t, 1, stats[OutcomeMerged])
			assert.Equal(t, 3, stats.Total())

			x := im.Index()
			require.Equal(t, 2, x.Len())
			got, err := x.FindByName("WATER")
			require.NoError(t, err)
			assert.Same(t, w3, got)
			assert.Equal(t, "Water", got.Name)
			assert.NotZero(t, got.ID)
			assert.Equal(t, []uint32{773218, 1000}, got.CAS)
			assert.True(t, got.Flags.Has(mtypes.Has2D|mtypes.Has3D))

			// the oxygen's 2-D position came from the oxygen of the source
			srcO := slices.IndexFunc(w2.Graph.Atoms, func(a molecule.Atom) bool { return a.Element == mtypes.O })
			assert.Equal(t, w2.Graph.Atoms[srcO].Flat, got.Graph.Atoms[0].Flat)

			assert.Len(t, im.Changed(), 2)
		})
	}
}

func TestImporter_TopologyConflict(t *testing.T) {
	opts := DefaultImportOptions()
	opts.Exact = false
	im := newTestImporter(t, opts)

	triple := hcn(t, mtypes.BondTriple, mtypes.Has3D)
	double := hcn(t, mtypes.BondDouble, mtypes.Has2D)
	var results []*Result
	for res, err := range im.All(context.Background(), slices.Values([]*molecule.Record{triple, double})) {
		require.NoError(t, err)
		results = append(results, res)
	}

	require.Len(t, results, 2)
	assert.Equal(t, OutcomeInserted, results[0].Outcome)
	assert.Equal(t, OutcomeConflict, results[1].Outcome)
	assert.True(t, errors.Is(results[1].Err, molecule.ErrTopologyMismatch))
	assert.Nil(t, results[1].Record)
	assert.False(t, triple.Flags.Has(mtypes.Has2D), "existing record untouched")
	assert.Equal(t, 1, im.Index().Len())
}

func TestImporter_AutofixMergesAcrossBondOrders(t *testing.T) {
	opts := DefaultImportOptions()
	opts.Exact = false
	opts.AllowAutofix = true
	im := newTestImporter(t, opts)

	triple := hcn(t, mtypes.BondTriple, mtypes.Has3D)
	stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{triple, hcn(t, mtypes.BondDouble, mtypes.Has2D)}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats[OutcomeMerged])
	assert.True(t, triple.Flags.Has(mtypes.Has2D|mtypes.Has3D))
	assert.Equal(t, mtypes.BondTriple, triple.Graph.Bonds[1].Type, "own bond orders kept")
}

func TestImporter_ExactKeepsBondOrderIsomersApart(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())
	stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{
		hcn(t, mtypes.BondTriple, mtypes.Has3D),
		hcn(t, mtypes.BondDouble, mtypes.Has2D),
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeInserted])
}

func TestImporter_AdoptsPayloadAndRehashes(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())

	bare := water(t, mtypes.FlagsNone)
	stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{bare, water2D(t, 3)}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats[OutcomeRehashed])
	assert.True(t, bare.Flags.Has(mtypes.Has2D))
	assert.NotZero(t, bare.StructureHashExact)

	found, err := im.Index().FindByGraph(context.Background(), water(t, 0).Graph, true, mtypes.FlagsNone)
	require.NoError(t, err)
	assert.Same(t, bare, found)
}

func TestImporter_RejectsUnhashableRecords(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())
	broken := water(t, 0)
	broken.Graph.Bonds = append(broken.Graph.Bonds, bond(1, 9, mtypes.BondSingle))

	stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{
		{Name: "no payload"},
		broken,
		water(t, 0),
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeRejected])
	assert.Equal(t, 1, stats[OutcomeInserted])
	assert.Equal(t, 1, im.Index().Len())
}

func TestImporter_ValenceAndFlags(t *testing.T) {
	opts := DefaultImportOptions()
	opts.Flags = mtypes.ShowInExplorer
	im := newTestImporter(t, opts)

	ch5 := newRecord(t, "pentahydridocarbon", 0, []string{"C", "H", "H", "H", "H", "H"},
		bond(0, 1, mtypes.BondSingle), bond(0, 2, mtypes.BondSingle), bond(0, 3, mtypes.BondSingle),
		bond(0, 4, mtypes.BondSingle), bond(0, 5, mtypes.BondSingle))
	w := water(t, mtypes.IncorrectValence)
	_, err := im.Run(context.Background(), slices.Values([]*molecule.Record{ch5, w}))
	require.NoError(t, err)

	assert.True(t, ch5.Flags.Has(mtypes.IncorrectValence|mtypes.ShowInExplorer))
	assert.False(t, w.Flags.Has(mtypes.IncorrectValence), "stale flag cleared")
	assert.True(t, w.Flags.Has(mtypes.HasTopology))
}

func TestImporter_IDs(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())
	a := water(t, 0)
	a.ID = 42
	b := ethanol(t)
	b.ID = 42
	_, err := im.Run(context.Background(), slices.Values([]*molecule.Record{a, b}))
	require.NoError(t, err)

	assert.Equal(t, uint64(42), a.ID)
	assert.NotEqual(t, uint64(42), b.ID)
	assert.NotZero(t, b.ID)
}

func TestImporter_DisconnectedGraphsAreNotDeduplicated(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())
	salt := func() *molecule.Record { return newRecord(t, "sodium chloride", 0, []string{"Na", "Cl"}) }
	stats, err := im.Run(context.Background(), slices.Values([]*molecule.Record{salt(), salt()}))
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeInserted])
}

func TestImporter_CancelLeavesSortedIndexAndResumes(t *testing.T) {
	opts := DefaultImportOptions()
	opts.Checkpoint = 1
	obs := &recordingMerges{}
	x, err := catalog.New()
	require.NoError(t, err)
	im := NewImporter(x, opts, nil, WithMergeObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	input := []*molecule.Record{water(t, mtypes.Has3D), ethanol(t), water2D(t, 5)}

	var fatal error
	n := 0
	for res, err := range im.All(ctx, slices.Values(input)) {
		if err != nil {
			fatal = err
			continue
		}
		n++
		assert.Equal(t, OutcomeInserted, res.Outcome)
		cancel()
	}
	assert.ErrorIs(t, fatal, context.Canceled)
	assert.Equal(t, 1, n)

	_, err = x.FindByName("Water")
	require.NoError(t, err, "index is sorted after the cancellation")

	stats, err := im.Run(context.Background(), slices.Values(input[1:]))
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeInserted])
	assert.Equal(t, 1, stats[OutcomeMerged])
	assert.Equal(t, []string{"inserted", "inserted", "merged"}, obs.outcomes)
	_, err = x.FindByName("Ethanol")
	assert.NoError(t, err)
}

func TestImporter_BreakSortsIndex(t *testing.T) {
	im := newTestImporter(t, DefaultImportOptions())
	for range im.All(context.Background(), slices.Values([]*molecule.Record{ethanol(t), water(t, 0)})) {
		break
	}
	require.Equal(t, 1, im.Index().Len())
	_, err := im.Index().FindByName("Ethanol")
	assert.NoError(t, err)
}

func randFor(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed^0x9e37)) }
