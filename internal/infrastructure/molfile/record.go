package molfile

import (
	"strconv"
	"strings"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// Data item names consulted by Record, compared case-insensitively.
var (
	nameKeys = []string{"NAME", "COMMON_NAME", "PUBCHEM_IUPAC_NAME"}
	casKeys  = []string{"CAS", "CAS_RN", "CASRN", "CAS_NUMBER"}
	idKeys   = []string{"ID", "MOLIDENT_ID"}
)

// Value returns the first data item matching one of keys, ignoring case.
func (m *Molecule) Value(keys ...string) (string, bool) {
	for _, k := range keys {
		for name, v := range m.Data {
			if strings.EqualFold(name, k) {
				return v, true
			}
		}
	}
	return "", false
}

// Record converts the molecule into an unhashed record. The header name
// takes precedence over name data items; CAS numbers may be separated by
// whitespace, commas or semicolons.
func (m *Molecule) Record() (*molecule.Record, error) {
	r := &molecule.Record{Name: m.Name, Graph: m.Graph}
	if r.Name == "" {
		r.Name, _ = m.Value(nameKeys...)
		r.Name = strings.TrimSpace(r.Name)
	}
	if v, ok := m.Value(idKeys...); ok {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, ErrParse.WithDetailf("line %d: invalid id %q", m.Line, v)
		}
		r.ID = id
	}
	if v, ok := m.Value(casKeys...); ok {
		for _, s := range strings.FieldsFunc(v, func(c rune) bool {
			return c == ',' || c == ';' || c == ' ' || c == '\n' || c == '\t'
		}) {
			n, err := molecule.ParseCASStrict(s)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrCodeInvalidCAS, "record at line %d", m.Line)
			}
			if !r.HasCAS(n) {
				r.CAS = append(r.CAS, n)
			}
		}
	}
	switch m.Dimension {
	case 3:
		r.Flags |= mtypes.Has3D
	case 2:
		r.Flags |= mtypes.Has2D
	}
	r.Charge = int8(r.NetCharge())
	r.SyncPayloadFlags()
	return r, nil
}
