package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/application/registry"
	"github.com/turtacn/molident/pkg/errors"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the published binary database",
		Long: "Loads the published database with every payload, recomputes the hashes of\n" +
			"each record and compares the store checksum with the published manifest.\n" +
			"Exits with an error when a check fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report *registry.VerifyReport
			err := runWithApp(cmd, func(ctx context.Context, app *App) error {
				var verr error
				report, verr = app.Service.Verify(ctx)
				return verr
			})
			if err != nil {
				return err
			}
			if err := PrintResult(cmd, newVerifySummary(report)); err != nil {
				return err
			}
			if !report.OK() {
				return errors.Newf(errors.ErrCodeCorruptStore, "database %s failed verification", report.Database)
			}
			return nil
		},
	}
}

// verifySummary is the printed result of a verification.
type verifySummary struct {
	Database         string   `json:"database"`
	Records          int      `json:"records"`
	Checksum         string   `json:"checksum"`
	ManifestChecksum string   `json:"manifest_checksum,omitempty"`
	HashMismatches   []uint64 `json:"hash_mismatches,omitempty"`
	OK               bool     `json:"ok"`
}

func newVerifySummary(r *registry.VerifyReport) *verifySummary {
	s := &verifySummary{
		Database:       r.Database,
		Records:        r.Records,
		Checksum:       formatChecksum(r.Checksum),
		HashMismatches: r.HashMismatches,
		OK:             r.OK(),
	}
	if r.ManifestChecksum != nil {
		s.ManifestChecksum = formatChecksum(*r.ManifestChecksum)
	}
	return s
}

func (s *verifySummary) TableHeaders() []string {
	return []string{"DATABASE", "RECORDS", "CHECKSUM", "MANIFEST", "MISMATCHES", "STATUS"}
}

func (s *verifySummary) TableRows() [][]string {
	manifest := s.ManifestChecksum
	if manifest == "" {
		manifest = "-"
	}
	ids := make([]string, len(s.HashMismatches))
	for i, id := range s.HashMismatches {
		ids[i] = strconv.FormatUint(id, 10)
	}
	mismatches := "-"
	if len(ids) > 0 {
		mismatches = strings.Join(ids, ",")
	}
	status := "OK"
	if !s.OK {
		status = "FAILED"
	}
	return [][]string{{s.Database, strconv.Itoa(s.Records), s.Checksum, manifest, mismatches, status}}
}
