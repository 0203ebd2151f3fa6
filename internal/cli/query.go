package cli

import (
	"errors"
	"fmt"

	"github.com/dvloznov/txingest/internal/store"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the most recently uploaded transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd, cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			rows, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}
			return writeRows(cmd, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum number of rows")

	return cmd
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find transactions by identifier or ISIN substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd, cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			rows, err := repo.Search(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return writeRows(cmd, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum number of rows")

	return cmd
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all transactions without --yes")
			}
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd, cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.Reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d transactions\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	return cmd
}

func writeRows(cmd *cobra.Command, rows []*store.Transaction) error {
	if rows == nil {
		rows = []*store.Transaction{}
	}
	return writeJSON(cmd.OutOrStdout(), rows)
}
