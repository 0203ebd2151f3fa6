package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Inbox string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest files dropped into an inbox directory",
		Long: `Watch an inbox directory and ingest every CSV, JSON or XML file that
appears in it. Files are moved out of the inbox once submitted. Runs until
interrupted.

Example:
  txingest watch --inbox ./inbox`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "inbox directory, overrides the configured one")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	if opts.Inbox != "" {
		a.Config.InboxDir = opts.Inbox
	}

	w := a.Watcher()
	if w == nil {
		a.Shutdown(ctx)
		return errors.New("no inbox directory: set --inbox or inbox_dir")
	}
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		a.Shutdown(ctx)
		return err
	}

	runErr := w.Run(ctx)
	if err := a.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
