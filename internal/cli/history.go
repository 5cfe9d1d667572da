package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand groups status history commands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived status changes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <submission-id>",
		Short: "List the recorded status changes of a submission, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd, rootOpts, args[0])
		},
	})
	return cmd
}

func runHistoryList(cmd *cobra.Command, rootOpts *RootOptions, id string) error {
	formatter := newFormatter(rootOpts, cmd)
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return reportCommandError(formatter, err)
	}
	recorder, err := openHistory(cmd.Context(), cfg)
	if err != nil {
		return reportCommandError(formatter, WrapExitError(ExitCommandError, "open history", err))
	}
	if recorder == nil {
		return reportCommandError(formatter, NewExitError(ExitCommandError, "status history is disabled in the configuration"))
	}
	entries, err := recorder.List(cmd.Context(), id)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "list history", err)
	}
	return formatter.Success(entries, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s -> %s\t%s\n", e.RecordedAt.Format(time.RFC3339), e.From, e.To, e.Version)
		}
		_ = tw.Flush()
	})
}
