package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// recordColumns is the column order of recordArgs and scanRecord.
const recordColumns = `id, name, charge, atoms_hash, structure_hash, structure_hash_exact, flags, formula, cas_numbers, graph`

// dbtx is satisfied by both the pool and a transaction, so a repository
// bound to a transaction runs the same statements.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// recordRow is a single row of recordColumns, from QueryRow or Rows.
type recordRow interface {
	Scan(dest ...interface{}) error
}

// recordArgs encodes rec in recordColumns order. Unsigned hashes and IDs
// are stored as their signed bit pattern.
func recordArgs(rec *molecule.Record) ([]interface{}, error) {
	var graph []byte
	if rec.Graph != nil {
		var err error
		if graph, err = json.Marshal(rec.Graph); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode graph")
		}
	}
	cas := make([]int64, len(rec.CAS))
	for i, n := range rec.CAS {
		cas[i] = int64(n)
	}
	return []interface{}{
		int64(rec.ID), rec.Name, int64(rec.Charge),
		int64(rec.AtomsHash), int64(rec.StructureHash), int64(rec.StructureHashExact),
		int64(rec.Flags), rec.Formula, pq.Array(cas), graph,
	}, nil
}

// scanRecord decodes one row. sql.ErrNoRows is returned unwrapped.
func scanRecord(row recordRow) (*molecule.Record, error) {
	var (
		id, atoms, structure, exact, flags int64
		charge                             int16
		rec                                molecule.Record
		cas                                pq.Int64Array
		graph                              []byte
	)
	err := row.Scan(&id, &rec.Name, &charge, &atoms, &structure, &exact, &flags, &rec.Formula, &cas, &graph)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan record")
	}
	rec.ID = uint64(id)
	rec.Charge = int8(charge)
	rec.AtomsHash = uint32(atoms)
	rec.StructureHash = uint32(structure)
	rec.StructureHashExact = uint32(exact)
	rec.Flags = mtypes.Flags(flags)
	if len(cas) > 0 {
		rec.CAS = make([]uint32, len(cas))
		for i, n := range cas {
			rec.CAS[i] = uint32(n)
		}
	}
	if len(graph) > 0 {
		rec.Graph = new(molecule.Graph)
		if err := json.Unmarshal(graph, rec.Graph); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, fmt.Sprintf("record %d: invalid graph", id))
		}
	}
	return &rec, nil
}
