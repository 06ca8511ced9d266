package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/molfile"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/pkg/errors"
)

// NewHashCmd creates the hash command.
func NewHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE",
		Short: "Print the hashes of the structures in a molfile or SD file",
		Long: "Prints the atoms hash, the structure hashes with and without bond orders\n" +
			"and the number of symmetry variants of every record in FILE.\n" +
			"Disconnected structures report the not-connected hash.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, errors.ErrCodeNotFound, "open %s", args[0])
			}
			defer f.Close()

			ws := canon.Acquire()
			defer canon.Release(ws)

			var out hashList
			for m, err := range molfile.ReadSDF(f) {
				if err != nil {
					cliCtx.Logger.Warn("skipping malformed record", logging.Err(err))
					continue
				}
				r, err := m.Record()
				if err != nil {
					cliCtx.Logger.Warn("skipping malformed record", logging.Err(err))
					continue
				}
				v, err := hashRecord(ws, r)
				if err != nil {
					return err
				}
				out = append(out, v)
			}
			if len(out) == 0 {
				return errors.Newf(errors.ErrCodeMolfileParse, "no readable record in %s", args[0])
			}
			return PrintResult(cmd, out)
		},
	}
}

func hashRecord(ws *canon.Workspace, r *molecule.Record) (hashView, error) {
	if err := ws.HashRecord(r); err != nil {
		return hashView{}, err
	}
	v := hashView{
		Name:               r.Name,
		Atoms:              r.Graph.Len(),
		AtomsHash:          r.AtomsHash,
		StructureHash:      r.StructureHash,
		StructureHashExact: r.StructureHashExact,
		Connected:          r.StructureHash != canon.NotConnectedHash,
	}
	for _, exact := range []bool{false, true} {
		res, err := ws.Canonicalize(r.Graph, exact, 0)
		if err != nil && !errors.Is(err, canon.ErrDisconnected) {
			return hashView{}, err
		}
		if exact {
			v.VariantsExact = res.TotalVariants
		} else {
			v.Variants = res.TotalVariants
		}
	}
	return v, nil
}

type hashView struct {
	Name               string `json:"name"`
	Atoms              int    `json:"atoms"`
	AtomsHash          uint32 `json:"atoms_hash"`
	StructureHash      uint32 `json:"structure_hash"`
	StructureHashExact uint32 `json:"structure_hash_exact"`
	Variants           int    `json:"variants"`
	VariantsExact      int    `json:"variants_exact"`
	Connected          bool   `json:"connected"`
}

type hashList []hashView

func (l hashList) TableHeaders() []string {
	return []string{"NAME", "ATOMS", "ATOMS_HASH", "HASH", "HASH_EXACT", "VARIANTS", "VARIANTS_EXACT"}
}

func (l hashList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{
			v.Name,
			strconv.Itoa(v.Atoms),
			hex32(v.AtomsHash),
			hex32(v.StructureHash),
			hex32(v.StructureHashExact),
			strconv.Itoa(v.Variants),
			strconv.Itoa(v.VariantsExact),
		}
	}
	return rows
}

func hex32(h uint32) string {
	return "0x" + strconv.FormatUint(uint64(h), 16)
}
