package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"passcore/internal/status"
)

// VocabularySummary describes a validated vocabulary.
type VocabularySummary struct {
	File           string   `json:"file,omitempty"`
	Initial        string   `json:"initial"`
	PreSubmission  []string `json:"preSubmission"`
	PostSubmission []string `json:"postSubmission"`
	Terminal       []string `json:"terminal,omitempty"`
	Precedence     []string `json:"precedence"`
	Transitions    bool     `json:"transitions"`
}

// NewVocabularyCommand groups vocabulary inspection commands.
func NewVocabularyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocabulary",
		Short: "Inspect status vocabularies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a vocabulary document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVocabularyCheck(cmd, rootOpts, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in vocabulary document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(status.DefaultVocabularyYAML())
			return err
		},
	})
	return cmd
}

func runVocabularyCheck(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	formatter := newFormatter(rootOpts, cmd)
	data, err := os.ReadFile(path)
	if err != nil {
		return reportCommandError(formatter, WrapExitError(ExitCommandError, "read vocabulary", err))
	}
	vocab, err := status.ParseVocabulary(data)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid vocabulary", err)
	}
	summary := summarize(vocab)
	summary.File = path
	return formatter.Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
		fmt.Fprintf(w, "  initial:         %s\n", summary.Initial)
		fmt.Fprintf(w, "  pre-submission:  %s\n", strings.Join(summary.PreSubmission, ", "))
		fmt.Fprintf(w, "  post-submission: %s\n", strings.Join(summary.PostSubmission, ", "))
		fmt.Fprintf(w, "  precedence:      %s\n", strings.Join(summary.Precedence, " > "))
	})
}

func summarize(v *status.Vocabulary) VocabularySummary {
	s := VocabularySummary{
		Initial:     string(v.Initial()),
		Transitions: v.HasTransitionTable(),
	}
	for _, st := range v.PreSubmissionStatuses() {
		s.PreSubmission = append(s.PreSubmission, string(st))
	}
	for _, st := range v.PostSubmissionStatuses() {
		s.PostSubmission = append(s.PostSubmission, string(st))
	}
	for _, st := range v.TerminalStatuses() {
		s.Terminal = append(s.Terminal, string(st))
	}
	for _, o := range v.Precedence() {
		s.Precedence = append(s.Precedence, string(o))
	}
	return s
}
