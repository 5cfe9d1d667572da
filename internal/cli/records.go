package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"passcore/pkg/domain"
)

// fixtureDocument is the YAML (or JSON) layout accepted by records import.
// Each item uses the record's JSON field names.
type fixtureDocument struct {
	Publications     []map[string]any `yaml:"publications"`
	Repositories     []map[string]any `yaml:"repositories"`
	Grants           []map[string]any `yaml:"grants"`
	Submissions      []map[string]any `yaml:"submissions"`
	Deposits         []map[string]any `yaml:"deposits"`
	RepositoryCopies []map[string]any `yaml:"repositoryCopies"`
	SubmissionEvents []map[string]any `yaml:"submissionEvents"`
}

// ImportSummary reports what records import wrote.
type ImportSummary struct {
	Created  int            `json:"created"`
	Replaced int            `json:"replaced"`
	ByKind   map[string]int `json:"byKind"`
}

// NewRecordsCommand groups record store maintenance commands.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Load and inspect records in the configured store",
	}

	var replace bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Write the records of a YAML or JSON fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsImport(cmd, rootOpts, args[0], replace)
		},
	}
	importCmd.Flags().BoolVar(&replace, "replace", false, "overwrite records that already exist")
	cmd.AddCommand(importCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsShow(cmd, rootOpts, args[0])
		},
	})
	return cmd
}

// LoadFixtures decodes a fixture document into entities in dependency order.
func LoadFixtures(data []byte) ([]domain.Entity, error) {
	var doc fixtureDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	var out []domain.Entity
	steps := []func() ([]domain.Entity, error){
		func() ([]domain.Entity, error) { return decodeEntities[domain.Publication](doc.Publications) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.Repository](doc.Repositories) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.Grant](doc.Grants) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.Submission](doc.Submissions) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.Deposit](doc.Deposits) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.RepositoryCopy](doc.RepositoryCopies) },
		func() ([]domain.Entity, error) { return decodeEntities[domain.SubmissionEvent](doc.SubmissionEvents) },
	}
	for _, step := range steps {
		entities, err := step()
		if err != nil {
			return nil, err
		}
		out = append(out, entities...)
	}
	return out, nil
}

func decodeEntities[T domain.Entity](items []map[string]any) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(items))
	for i, item := range items {
		var zero T
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%s #%d: %w", zero.EntityType(), i+1, err)
		}
		var entity T
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&entity); err != nil {
			return nil, fmt.Errorf("%s #%d: %w", zero.EntityType(), i+1, err)
		}
		if entity.EntityID() == "" {
			return nil, fmt.Errorf("%s #%d: missing id", zero.EntityType(), i+1)
		}
		out = append(out, entity)
	}
	return out, nil
}

// ImportRecords writes entities to store. Existing records fail the import
// unless replace is set.
func ImportRecords(ctx context.Context, store domain.RecordStore, entities []domain.Entity, replace bool) (ImportSummary, error) {
	summary := ImportSummary{ByKind: make(map[string]int)}
	for _, e := range entities {
		rec, err := domain.EncodeRecord(e)
		if err != nil {
			return summary, err
		}
		_, err = store.Write(ctx, rec, "")
		var conflict *domain.ConflictError
		switch {
		case err == nil:
			summary.Created++
		case errors.As(err, &conflict) && replace:
			if _, err := store.Write(ctx, rec, conflict.Actual); err != nil {
				return summary, fmt.Errorf("replace %s: %w", rec.ID, err)
			}
			summary.Replaced++
		default:
			return summary, fmt.Errorf("write %s: %w", rec.ID, err)
		}
		summary.ByKind[string(rec.Kind)]++
	}
	return summary, nil
}

func runRecordsImport(cmd *cobra.Command, rootOpts *RootOptions, path string, replace bool) (retErr error) {
	formatter := newFormatter(rootOpts, cmd)
	data, err := os.ReadFile(path)
	if err != nil {
		return reportCommandError(formatter, WrapExitError(ExitCommandError, "read fixtures", err))
	}
	entities, err := LoadFixtures(data)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid fixtures", err)
	}

	store, _, err := openStore(cmd.Context(), rootOpts)
	if err != nil {
		return reportCommandError(formatter, err)
	}
	defer func() {
		if err := store.Close(); err != nil && retErr == nil {
			retErr = WrapExitError(ExitCommandError, "close record store", err)
		}
	}()

	summary, err := ImportRecords(cmd.Context(), store, entities, replace)
	if err != nil {
		_ = formatter.Failure(summary, ErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "import failed", err)
	}
	return formatter.Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "imported %d record(s) (%d created, %d replaced) from %s\n",
			summary.Created+summary.Replaced, summary.Created, summary.Replaced, path)
	})
}

func runRecordsShow(cmd *cobra.Command, rootOpts *RootOptions, id string) (retErr error) {
	formatter := newFormatter(rootOpts, cmd)
	store, _, err := openStore(cmd.Context(), rootOpts)
	if err != nil {
		return reportCommandError(formatter, err)
	}
	defer func() {
		if err := store.Close(); err != nil && retErr == nil {
			retErr = WrapExitError(ExitCommandError, "close record store", err)
		}
	}()

	rec, err := store.Read(cmd.Context(), id)
	if err != nil {
		_ = formatter.Error(ErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "read record", err)
	}
	return formatter.Success(rec, func(w io.Writer) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
	})
}
