package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"passcore/internal/core"
	"passcore/pkg/domain"
)

// StatusResult is the per-submission output of the status commands.
type StatusResult struct {
	ID       string        `json:"id"`
	Status   domain.Status `json:"status,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Code     string        `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// UpdateOptions holds flags of the update command.
type UpdateOptions struct {
	OverrideUIStatus bool
	Retries          int
	Parallel         int
}

// NewStatusCommand groups the status calculation commands.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Calculate or update submission statuses",
	}
	cmd.AddCommand(newStatusCalculateCommand(rootOpts))
	cmd.AddCommand(newStatusUpdateCommand(rootOpts))
	return cmd
}

func newStatusCalculateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "calculate <submission-id>...",
		Short: "Print the status each submission should hold, without writing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusCalculate(cmd, rootOpts, args)
		},
	}
}

func newStatusUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{}
	cmd := &cobra.Command{
		Use:   "update <submission-id>...",
		Short: "Calculate and persist submission statuses",
		Long: `Calculate each submission's status and store it when it changed.

A status set before submission is kept unless --override-ui-status is given.
Submissions modified concurrently are recalculated up to --retries times.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusUpdate(cmd, rootOpts, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.OverrideUIStatus, "override-ui-status", false, "replace statuses set before submission")
	cmd.Flags().IntVar(&opts.Retries, "retries", 0, "recalculate after a concurrent modification up to this many times")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "submissions processed concurrently (default from configuration)")
	return cmd
}

func runStatusCalculate(cmd *cobra.Command, rootOpts *RootOptions, ids []string) (retErr error) {
	formatter := newFormatter(rootOpts, cmd)
	sess, err := openSession(cmd.Context(), rootOpts)
	if err != nil {
		return reportCommandError(formatter, err)
	}
	defer closeSession(sess, formatter, &retErr)

	results := make([]StatusResult, 0, len(ids))
	for _, id := range ids {
		st, err := sess.service.CalculateSubmissionStatus(cmd.Context(), id)
		results = append(results, newStatusResult(id, st, 0, err))
	}
	return reportStatusResults(formatter, results)
}

func runStatusUpdate(cmd *cobra.Command, rootOpts *RootOptions, opts *UpdateOptions, ids []string) (retErr error) {
	formatter := newFormatter(rootOpts, cmd)
	if opts.Retries < 0 {
		return reportCommandError(formatter, NewExitError(ExitCommandError, "--retries must not be negative"))
	}
	sess, err := openSession(cmd.Context(), rootOpts)
	if err != nil {
		return reportCommandError(formatter, err)
	}
	defer closeSession(sess, formatter, &retErr)

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = sess.cfg.Engine.BatchParallelism
	}
	results := updateWithRetries(cmd.Context(), sess.service, ids, opts.OverrideUIStatus, parallel, opts.Retries, formatter)
	return reportStatusResults(formatter, results)
}

// updateWithRetries recalculates submissions that lost an optimistic
// concurrency race until they succeed, fail otherwise or run out of retries.
func updateWithRetries(ctx context.Context, svc *core.StatusService, ids []string, override bool, parallel, retries int, f *OutputFormatter) []StatusResult {
	results := make([]StatusResult, len(ids))
	pending := make([]int, len(ids))
	for i := range ids {
		pending[i] = i
	}
	for attempt := 1; len(pending) > 0; attempt++ {
		batch := make([]string, len(pending))
		for j, idx := range pending {
			batch[j] = ids[idx]
		}
		var retry []int
		for j, res := range svc.UpdateMany(ctx, batch, override, parallel) {
			idx := pending[j]
			results[idx] = newStatusResult(res.ID, res.Status, attempt, res.Err)
			if domain.IsConflict(res.Err) && attempt <= retries {
				f.VerboseLog("retrying %s after conflict (attempt %d)", res.ID, attempt)
				retry = append(retry, idx)
			}
		}
		pending = retry
	}
	return results
}

func newStatusResult(id string, st domain.Status, attempts int, err error) StatusResult {
	res := StatusResult{ID: id, Status: st, Attempts: attempts}
	if err != nil {
		res.Status = ""
		res.Code = ErrorCode(err)
		res.Error = err.Error()
	}
	return res
}

func reportStatusResults(f *OutputFormatter, results []StatusResult) error {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	render := func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, "FAILED", r.Error)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.Status)
		}
		_ = tw.Flush()
	}
	if failed == 0 {
		return f.Success(results, render)
	}
	code := ErrCodeGeneric
	for _, r := range results {
		if r.Code != "" {
			code = r.Code
			break
		}
	}
	msg := fmt.Sprintf("%d of %d submission(s) failed", failed, len(results))
	if err := f.Failure(results, code, msg, render); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// reportCommandError prints err and converts it into an ExitError.
func reportCommandError(f *OutputFormatter, err error) error {
	_ = f.Error(ErrorCode(err), err.Error(), nil)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(ExitCommandError, "command failed", err)
}

func closeSession(sess *session, f *OutputFormatter, retErr *error) {
	if err := sess.Close(f); err != nil && *retErr == nil {
		*retErr = WrapExitError(ExitCommandError, "shutdown", err)
	}
}
