package cli

import (
	"context"
	"iter"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/application/registry"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/molfile"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// NewImportCmd creates the import command.
func NewImportCmd() *cobra.Command {
	var (
		flags   string
		autofix bool
		exact   bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import molfiles and SD files, merging duplicate structures",
		Long: "Reads every record of the given molfiles and SD files, hashes its structure\n" +
			"and merges it into the record of the same structure, or adds it.\n" +
			"With an authoring database configured the changed records are saved there;\n" +
			"otherwise the binary database is updated and republished.\n" +
			"Malformed records are reported and skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			opts := importOptions(cliCtx.Config)
			if cmd.Flags().Changed("autofix") {
				opts.AllowAutofix = autofix
			}
			if cmd.Flags().Changed("exact") {
				opts.Exact = exact
			}
			if workers > 0 {
				opts.Workers = workers
			}
			f, ok := mtypes.ParseFlags(flags)
			if !ok {
				return errors.Newf(errors.ErrCodeValidation, "invalid --flags %q", flags)
			}
			opts.Flags = f
			return runImport(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&flags, "flags", "", "flags set on every imported record, e.g. ShowInExplorer,ShowInConstructor")
	cmd.Flags().BoolVar(&autofix, "autofix", false, "let merges ignore bond orders when exact atom matching fails")
	cmd.Flags().BoolVar(&exact, "exact", true, "compare bond orders when looking for duplicates")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel hashing workers (default: import.workers)")
	return cmd
}

func runImport(cmd *cobra.Command, paths []string, opts registry.ImportOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(err, errors.ErrCodeNotFound, "input %s", p)
		}
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)
	src := &structureSource{paths: paths, log: cliCtx.Logger, abort: cancel}
	cmd.SetContext(ctx)

	var stats registry.Stats
	err = runWithApp(cmd, func(ctx context.Context, app *App) error {
		var ierr error
		stats, ierr = app.Service.Import(ctx, src.All())
		return ierr
	}, registry.WithImportOptions(opts))
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil {
		return err
	}

	cliCtx.Logger.Info("import finished",
		logging.Int("files", len(paths)),
		logging.Int("read", src.read),
		logging.Int("skipped", src.skipped),
		logging.Int("processed", stats.Total()))
	return PrintResult(cmd, newImportSummary(src, stats))
}

// structureSource streams the records of molfiles and SD files. Malformed
// records are logged and skipped; a file that cannot be opened aborts the
// import through abort.
type structureSource struct {
	paths []string
	log   logging.Logger
	abort context.CancelCauseFunc

	read    int
	skipped int
}

func (s *structureSource) All() iter.Seq[*molecule.Record] {
	return func(yield func(*molecule.Record) bool) {
		for _, p := range s.paths {
			f, err := os.Open(p)
			if err != nil {
				s.abort(errors.Wrapf(err, errors.ErrCodeNotFound, "open %s", p))
				return
			}
			more := s.readFile(p, f, yield)
			f.Close()
			if !more {
				return
			}
		}
	}
}

func (s *structureSource) readFile(path string, f *os.File, yield func(*molecule.Record) bool) bool {
	for m, err := range molfile.ReadSDF(f) {
		if err == nil {
			var r *molecule.Record
			if r, err = m.Record(); err == nil {
				s.read++
				if !yield(r) {
					return false
				}
				continue
			}
		}
		s.skipped++
		s.log.Warn("skipping malformed record", logging.String("file", path), logging.Err(err))
	}
	return true
}

// importSummary is the printed result of an import.
type importSummary struct {
	Files    int            `json:"files"`
	Read     int            `json:"read"`
	Skipped  int            `json:"skipped"`
	Outcomes map[string]int `json:"outcomes"`
}

func newImportSummary(src *structureSource, stats registry.Stats) *importSummary {
	sum := &importSummary{Files: len(src.paths), Read: src.read, Skipped: src.skipped, Outcomes: map[string]int{}}
	for o, n := range stats {
		sum.Outcomes[string(o)] = n
	}
	return sum
}

func (s *importSummary) TableHeaders() []string { return []string{"OUTCOME", "RECORDS"} }

func (s *importSummary) TableRows() [][]string {
	names := make([]string, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		names = append(names, o)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names)+1)
	for _, o := range names {
		rows = append(rows, []string{o, strconv.Itoa(s.Outcomes[o])})
	}
	return append(rows, []string{"skipped", strconv.Itoa(s.Skipped)})
}
