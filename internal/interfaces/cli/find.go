package cli

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/molfile"
	"github.com/turtacn/molident/pkg/errors"
)

// NewFindCmd creates the find command.
func NewFindCmd() *cobra.Command {
	var (
		molPath string
		exact   bool
	)

	cmd := &cobra.Command{
		Use:   "find [ID|NAME]",
		Short: "Look up records by id, name or structure",
		Long: "Looks up the published database. A numeric argument is tried as a record id\n" +
			"first and as a name otherwise; names are compared after normalisation.\n" +
			"With --molfile every record of the same structure is listed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if (molPath == "") == (len(args) == 0) {
				return errors.New(errors.ErrCodeValidation, "either an id or name argument or --molfile must be provided")
			}
			if !cmd.Flags().Changed("exact") {
				exact = cliCtx.Config.Canon.Exact
			}

			var found []*molecule.Record
			err = runWithApp(cmd, func(ctx context.Context, app *App) error {
				if molPath != "" {
					g, err := readStructure(molPath)
					if err != nil {
						return err
					}
					found, err = app.Service.FindStructure(ctx, g, exact)
					return err
				}
				r, err := app.Service.Find(ctx, args[0])
				if err != nil {
					return err
				}
				found = []*molecule.Record{r}
				return nil
			})
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return molecule.ErrRecordNotFound.WithDetail("no record has this structure")
			}
			return PrintResult(cmd, newRecordList(found))
		},
	}

	cmd.Flags().StringVar(&molPath, "molfile", "", "molfile holding the structure to search for")
	cmd.Flags().BoolVar(&exact, "exact", true, "compare bond orders (default: canon.exact)")
	return cmd
}

// readStructure parses the first record of a molfile or SD file.
func readStructure(path string) (*molecule.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeNotFound, "open %s", path)
	}
	defer f.Close()
	m, err := molfile.Parse(f)
	if err != nil {
		return nil, err
	}
	return m.Graph, nil
}

// recordView is the printed form of a record.
type recordView struct {
	ID      uint64   `json:"id"`
	Name    string   `json:"name"`
	Formula string   `json:"formula,omitempty"`
	CAS     []string `json:"cas,omitempty"`
	Charge  int8     `json:"charge,omitempty"`
	Flags   string   `json:"flags"`
}

type recordList []recordView

func newRecordList(records []*molecule.Record) recordList {
	out := make(recordList, len(records))
	for i, r := range records {
		v := recordView{
			ID:      r.ID,
			Name:    r.Name,
			Formula: r.MolecularFormula(false),
			Charge:  r.Charge,
			Flags:   r.Flags.String(),
		}
		for _, n := range r.CAS {
			v.CAS = append(v.CAS, molecule.FormatCAS(n, true))
		}
		out[i] = v
	}
	return out
}

func (l recordList) TableHeaders() []string {
	return []string{"ID", "NAME", "FORMULA", "CAS", "FLAGS"}
}

func (l recordList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{strconv.FormatUint(v.ID, 10), v.Name, v.Formula, strings.Join(v.CAS, ","), v.Flags}
	}
	return rows
}
