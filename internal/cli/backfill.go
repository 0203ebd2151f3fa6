package cli

import (
	"errors"
	"fmt"

	"github.com/dvloznov/txingest/internal/app"
	"github.com/dvloznov/txingest/internal/config"
	"github.com/dvloznov/txingest/internal/pipeline"
	"github.com/dvloznov/txingest/internal/record"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Copy stored transactions missing from the warehouse",
		Long: `Compare the transaction store with the BigQuery table and stream the
rows the warehouse does not have yet. Requires bigquery_project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}

			exporter, err := app.OpenExporter(ctx, cfg, log)
			if err != nil {
				return err
			}
			if exporter == nil {
				return errors.New("no warehouse configured: set bigquery_project")
			}
			defer exporter.Close()

			repo, err := openRepository(cmd, cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			rows, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}
			exported, err := exporter.ExportedIdentifiers(ctx)
			if err != nil {
				return err
			}

			missing := Missing(rows, exported)
			if err := exporter.ExportTransactions(ctx, missing); err != nil {
				return err
			}

			log.Info().Int("checked", len(rows)).Int("exported", len(missing)).Msg("backfill finished")
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d of %d transactions\n", len(missing), len(rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100000, "maximum number of stored rows to compare")

	return cmd
}

// Missing returns the rows whose identifier is not in exported.
func Missing(rows []*store.Transaction, exported map[string]struct{}) []*store.Transaction {
	records := make([]record.Record, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}

	fresh, _ := pipeline.Partition(records, exported)

	out := make([]*store.Transaction, len(fresh))
	for i, r := range fresh {
		out[i] = store.FromRecord(r)
	}
	return out
}

func openRepository(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger) (store.Repository, error) {
	return app.OpenRepository(cmd.Context(), cfg, log)
}
