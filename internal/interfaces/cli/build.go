package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/application/registry"
)

// NewBuildCmd creates the build command.
func NewBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the binary database from the authoring database and publish it",
		Long: "Reads every record of the authoring database, hashes records stored without\n" +
			"hashes and publishes the binary database. With redis configured the publish\n" +
			"holds the database's publish lock and records a manifest.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res *registry.PublishResult
			err := runWithApp(cmd, func(ctx context.Context, app *App) error {
				var berr error
				res, berr = app.Service.Build(ctx)
				return berr
			})
			if err != nil {
				return err
			}
			return PrintResult(cmd, newPublishSummary(res))
		},
	}
}

// publishSummary is the printed result of a build.
type publishSummary struct {
	Database string `json:"database"`
	Records  int    `json:"records"`
	Checksum string `json:"checksum"`
}

func newPublishSummary(res *registry.PublishResult) *publishSummary {
	return &publishSummary{Database: res.Database, Records: res.Records, Checksum: formatChecksum(res.Checksum)}
}

func (s *publishSummary) TableHeaders() []string { return []string{"DATABASE", "RECORDS", "CHECKSUM"} }

func (s *publishSummary) TableRows() [][]string {
	return [][]string{{s.Database, strconv.Itoa(s.Records), s.Checksum}}
}

func formatChecksum(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}
