package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molident/internal/application/registry"
	"github.com/turtacn/molident/internal/config"
	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/molfile"
	"github.com/turtacn/molident/pkg/errors"
)

type testAtom struct {
	x, y float64
	sym  string
}

type testMol struct {
	name  string
	atoms []testAtom
	bonds [][3]int
	data  [][2]string
}

func (m testMol) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  molident          2D\n\n", m.name)
	fmt.Fprintf(&b, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", len(m.atoms), len(m.bonds))
	for _, a := range m.atoms {
		fmt.Fprintf(&b, "%10.4f%10.4f%10.4f %-3s 0  0  0  0  0  0  0  0  0  0  0  0\n", a.x, a.y, 0.0, a.sym)
	}
	for _, bd := range m.bonds {
		fmt.Fprintf(&b, "%3d%3d%3d  0  0  0  0\n", bd[0], bd[1], bd[2])
	}
	b.WriteString("M  END\n")
	for _, d := range m.data {
		fmt.Fprintf(&b, "> <%s>\n%s\n\n", d[0], d[1])
	}
	return b.String()
}

func waterMol(name string, data ...[2]string) testMol {
	return testMol{
		name:  name,
		atoms: []testAtom{{0, 0, "O"}, {0.9572, 0, "H"}, {-0.24, 0.9266, "H"}},
		bonds: [][3]int{{1, 2, 1}, {1, 3, 1}},
		data:  data,
	}
}

func methaneMol() testMol {
	return testMol{
		name:  "Methane",
		atoms: []testAtom{{0, 0, "C"}, {1, 0, "H"}, {-1, 0, "H"}, {0, 1, "H"}, {0, -1, "H"}},
		bonds: [][3]int{{1, 2, 1}, {1, 3, 1}, {1, 4, 1}, {1, 5, 1}},
		data:  [][2]string{{"CAS", "74-82-8"}},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeConfig writes a config storing databases under dir/db; extra is
// appended verbatim.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	content := fmt.Sprintf(`log:
  level: error
  format: console
store:
  dir: %s
  include: all
import:
  checkpoint: 10
%s`, filepath.Join(dir, "db"), extra)
	return writeFile(t, dir, "molident.yaml", content)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// sampleSDF holds water with id and CAS, a second copy of water under another
// name, a record with an invalid bond type and methane.
func sampleSDF() string {
	broken := methaneMol()
	broken.bonds[0][2] = 9
	return waterMol("Water", [2]string{"ID", "7732"}, [2]string{"CAS", "7732-18-5"}).String() + "$$$$\n" +
		waterMol("Dihydrogen oxide").String() + "$$$$\n" +
		broken.String() + "$$$$\n" +
		methaneMol().String() + "$$$$\n"
}

func TestImportFindVerify(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	sdf := writeFile(t, dir, "input.sdf", sampleSDF())

	out, err := execute(t, "--config", cfgPath, "-o", "json", "import", sdf)
	require.NoError(t, err)
	var sum importSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Files)
	assert.Equal(t, 3, sum.Read)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, map[string]int{
		string(registry.OutcomeInserted): 2,
		string(registry.OutcomeMerged):   1,
	}, sum.Outcomes)

	out, err = execute(t, "--config", cfgPath, "find", "water")
	require.NoError(t, err)
	assert.Contains(t, out, "7732")
	assert.Contains(t, out, "7732-18-5")

	out, err = execute(t, "--config", cfgPath, "-o", "json", "find", "7732")
	require.NoError(t, err)
	var found []recordView
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "Water", found[0].Name)
	assert.Equal(t, "H2O", found[0].Formula)

	query := writeFile(t, dir, "query.mol", waterMol("query").String())
	out, err = execute(t, "--config", cfgPath, "-o", "json", "find", "--molfile", query)
	require.NoError(t, err)
	found = nil
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, uint64(7732), found[0].ID)

	_, err = execute(t, "--config", cfgPath, "find", "benzene")
	assert.True(t, errors.IsNotFound(err))

	out, err = execute(t, "--config", cfgPath, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

func TestImport_ReimportMerges(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	sdf := writeFile(t, dir, "input.sdf", sampleSDF())

	_, err := execute(t, "--config", cfgPath, "import", sdf)
	require.NoError(t, err)
	out, err := execute(t, "--config", cfgPath, "import", sdf)
	require.NoError(t, err)
	assert.Contains(t, out, "merged")
	assert.NotContains(t, out, "inserted")
}

func TestImport_StoreFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	other := filepath.Join(dir, "elsewhere")
	mol := writeFile(t, dir, "water.mol", waterMol("Water").String())

	_, err := execute(t, "--config", cfgPath, "--store", other, "import", mol)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(other, config.DefaultStoreDatabase))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "db"))
	assert.True(t, os.IsNotExist(err))
}

func TestImport_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	mol := writeFile(t, dir, "water.mol", waterMol("Water").String())

	_, err := execute(t, "--config", cfgPath, "import", filepath.Join(dir, "missing.sdf"))
	assert.True(t, errors.IsNotFound(err))

	_, err = execute(t, "--config", cfgPath, "import", "--flags", "Shiny", mol)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = execute(t, "--config", cfgPath, "import")
	assert.Error(t, err)
}

func TestImport_LocalStoreKeepsUnflaggedRecords(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Replace(mustRead(t, cfgPath), "include: all", "include: default", 1)), 0o644))
	water := writeFile(t, dir, "water.mol", waterMol("Water").String())
	other := writeFile(t, dir, "methane.mol", methaneMol().String())

	_, err := execute(t, "--config", cfgPath, "import", water)
	require.NoError(t, err)
	out, err := execute(t, "--config", cfgPath, "find", "Water")
	require.NoError(t, err)
	assert.NotContains(t, out, "ShowInExplorer")

	// a later import republishes without losing the first record
	_, err = execute(t, "--config", cfgPath, "import", "--flags", "ShowInExplorer", other)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "find", "Water")
	require.NoError(t, err)
	out, err = execute(t, "--config", cfgPath, "find", "Methane")
	require.NoError(t, err)
	assert.Contains(t, out, "ShowInExplorer")
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBuild_WithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir, ""), "build")
	assert.ErrorIs(t, err, registry.ErrNoRepository)
}

func TestVerify_MissingStore(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir, ""), "verify")
	assert.Error(t, err)
}

func TestPublishCoordination(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf("redis:\n  addr: %s\npublish:\n  publisher: ci\n", mr.Addr()))
	sdf := writeFile(t, dir, "input.sdf", sampleSDF())

	_, err := execute(t, "--config", cfgPath, "import", sdf)
	require.NoError(t, err)
	assert.True(t, mr.Exists("molident:manifest:main"))
	assert.Equal(t, "ci", mr.HGet("molident:manifest:main", "publisher"))
	assert.False(t, mr.Exists("molident:lock:publish:main"))

	out, err := execute(t, "--config", cfgPath, "-o", "json", "verify")
	require.NoError(t, err)
	var sum verifySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.True(t, sum.OK)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, sum.Checksum, sum.ManifestChecksum)
	assert.Equal(t, sum.Checksum, mr.HGet("molident:manifest:main", "checksum"))
}

func TestCASCommand(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "")

	out, err := execute(t, "--config", cfgPath, "-o", "json", "cas", "7732-18-5", "50000")
	require.NoError(t, err)
	var got []casView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []casView{
		{Input: "7732-18-5", Number: 773218, CAS: "7732-18-5", Digits: "7732185"},
		{Input: "50000", Number: 5000, CAS: "50-00-0", Digits: "50000"},
	}, got)

	out, err = execute(t, "--config", cfgPath, "cas", "--number", "773218")
	require.NoError(t, err)
	assert.Contains(t, out, "7732-18-5")

	_, err = execute(t, "--config", cfgPath, "cas", "7732-18-4")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCAS))

	_, err = execute(t, "--config", cfgPath, "cas", "--number", "x1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCAS))
}

func TestHashCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	salt := testMol{name: "Sodium chloride", atoms: []testAtom{{0, 0, "Na"}, {3, 0, "Cl"}}}
	sdf := writeFile(t, dir, "input.sdf", waterMol("Water").String()+"$$$$\n"+salt.String()+"$$$$\n")

	out, err := execute(t, "--config", cfgPath, "-o", "json", "hash", sdf)
	require.NoError(t, err)
	var got []hashView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)

	m, err := molfile.ParseString(waterMol("Water").String())
	require.NoError(t, err)
	want, err := m.Record()
	require.NoError(t, err)
	require.NoError(t, canon.HashRecord(want))

	assert.Equal(t, "Water", got[0].Name)
	assert.Equal(t, 3, got[0].Atoms)
	assert.True(t, got[0].Connected)
	assert.Equal(t, want.AtomsHash, got[0].AtomsHash)
	assert.Equal(t, want.StructureHash, got[0].StructureHash)
	assert.Equal(t, want.StructureHashExact, got[0].StructureHashExact)
	assert.GreaterOrEqual(t, got[0].Variants, 1)
	assert.GreaterOrEqual(t, got[0].VariantsExact, 1)

	assert.False(t, got[1].Connected)
	assert.Equal(t, canon.NotConnectedHash, got[1].StructureHash)

	out, err = execute(t, "--config", cfgPath, "hash", sdf)
	require.NoError(t, err)
	assert.Contains(t, out, "VARIANTS_EXACT")

	empty := writeFile(t, dir, "empty.sdf", "\n")
	_, err = execute(t, "--config", cfgPath, "hash", empty)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMolfileParse))
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, t.TempDir(), ""), "-o", "xml", "cas", "7732-18-5")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNewApp_Metrics(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Store.Dir = dir
	cfg.Store.Include = config.IncludeAll
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Canon.Exact = true
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	app, err := NewApp(cfg, nil)
	require.NoError(t, err)
	defer app.Close()
	require.NotEmpty(t, app.MetricsAddr())

	ready, err := http.Get("http://" + app.MetricsAddr() + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode, "nothing published yet")

	m, err := molfile.ParseString(waterMol("Water").String())
	require.NoError(t, err)
	r, err := m.Record()
	require.NoError(t, err)
	_, err = app.Service.Import(context.Background(), slices.Values([]*molecule.Record{r}))
	require.NoError(t, err)

	resp, err := http.Get("http://" + app.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `molident_merge_outcomes_total{result="inserted"} 1`)
	assert.Contains(t, string(body), "molident_records 1")
	assert.Contains(t, string(body), `molident_canonicalizations_total{exact="true"}`)

	ready, err = http.Get("http://" + app.MetricsAddr() + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	require.NoError(t, app.Close())
	_, err = http.Get("http://" + app.MetricsAddr() + "/metrics")
	assert.Error(t, err)
}
