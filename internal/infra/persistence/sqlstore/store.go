// Package sqlstore implements the record store on database/sql. Records are
// kept in one table with their payload as JSON text; outgoing references are
// mirrored into record_links so incoming links can be queried by target in
// insertion order. Optimistic concurrency uses a conditional UPDATE on the
// version column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"passcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

// Store is a RecordStore over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	newVer  func() string
}

// New wraps db. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, newVer: newVersion}
}

func newVersion() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Migrate creates the record tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: apply schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Read loads one record and its outgoing links.
func (s *Store) Read(ctx context.Context, id string) (domain.Record, error) {
	rec := domain.Record{ID: id}
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT kind, version, payload FROM records WHERE id = ?`), id,
	).Scan(&rec.Kind, &rec.Version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.NotFoundError{ID: id}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("%s: select record %s: %w", s.dialect.Name, id, err)
	}
	rec.Payload = []byte(payload)

	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT relation, target_id FROM record_links WHERE source_id = ? ORDER BY seq`), id)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%s: select links of %s: %w", s.dialect.Name, id, err)
	}
	defer func() { _ = rows.Close() }()
	links, err := scanLinks(rows)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%s: links of %s: %w", s.dialect.Name, id, err)
	}
	if len(links) > 0 {
		rec.Links = links
	}
	return rec, nil
}

// IncomingLinks lists the sources referencing id, grouped by relation.
func (s *Store) IncomingLinks(ctx context.Context, id string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT relation, source_id FROM record_links WHERE target_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("%s: select incoming links of %s: %w", s.dialect.Name, id, err)
	}
	defer func() { _ = rows.Close() }()
	links, err := scanLinks(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: incoming links of %s: %w", s.dialect.Name, id, err)
	}
	return links, nil
}

func scanLinks(rows *sql.Rows) (map[string][]string, error) {
	out := make(map[string][]string)
	for rows.Next() {
		var relation, other string
		if err := rows.Scan(&relation, &other); err != nil {
			return nil, err
		}
		out[relation] = append(out[relation], other)
	}
	return out, rows.Err()
}

// Write creates or conditionally updates rec and returns the new version.
func (s *Store) Write(ctx context.Context, rec domain.Record, expectedVersion string) (version string, retErr error) {
	if rec.ID == "" {
		return "", fmt.Errorf("write record: missing id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%s: begin tx: %w", s.dialect.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	version = s.newVer()
	if expectedVersion == "" {
		if err = s.insert(ctx, tx, rec, version); err != nil && !domain.IsConflict(err) {
			err = s.insertConflict(ctx, tx, rec.ID, err)
		}
	} else {
		err = s.update(ctx, tx, rec, version, expectedVersion)
	}
	if err != nil {
		return "", err
	}
	if err := s.replaceLinks(ctx, tx, rec.ID, rec.Links); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	committed = true
	return version, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, rec domain.Record, version string) error {
	if actual, found, err := s.currentVersion(ctx, tx, rec.ID); err != nil {
		return err
	} else if found {
		return &domain.ConflictError{ID: rec.ID, Actual: actual}
	}
	if _, err := tx.ExecContext(ctx,
		s.dialect.Rebind(`INSERT INTO records (id, kind, version, payload) VALUES (?, ?, ?, ?)`),
		rec.ID, string(rec.Kind), version, string(rec.Payload),
	); err != nil {
		return fmt.Errorf("%s: insert record %s: %w", s.dialect.Name, rec.ID, err)
	}
	return nil
}

// insertConflict reports a create that lost a race with a concurrent create
// of the same id as a conflict. The failed statement may have aborted tx, so
// the winner's version is read outside it.
func (s *Store) insertConflict(ctx context.Context, tx *sql.Tx, id string, cause error) error {
	_ = tx.Rollback()
	var actual string
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT version FROM records WHERE id = ?`), id).Scan(&actual); err != nil {
		return cause
	}
	return &domain.ConflictError{ID: id, Actual: actual}
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, rec domain.Record, version, expected string) error {
	res, err := tx.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE records SET kind = ?, version = ?, payload = ? WHERE id = ? AND version = ?`),
		string(rec.Kind), version, string(rec.Payload), rec.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("%s: update record %s: %w", s.dialect.Name, rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", s.dialect.Name, err)
	}
	if n == 1 {
		return nil
	}
	actual, _, err := s.currentVersion(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	return &domain.ConflictError{ID: rec.ID, Expected: expected, Actual: actual}
}

func (s *Store) currentVersion(ctx context.Context, tx *sql.Tx, id string) (string, bool, error) {
	var version string
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT version FROM records WHERE id = ?`), id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: select version of %s: %w", s.dialect.Name, id, err)
	}
	return version, true, nil
}

// replaceLinks deletes references that are gone and inserts new ones, so
// surviving references keep their sequence position.
func (s *Store) replaceLinks(ctx context.Context, tx *sql.Tx, source string, links map[string][]string) error {
	rows, err := tx.QueryContext(ctx,
		s.dialect.Rebind(`SELECT relation, target_id FROM record_links WHERE source_id = ?`), source)
	if err != nil {
		return fmt.Errorf("%s: select links of %s: %w", s.dialect.Name, source, err)
	}
	existing, err := scanLinks(rows)
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("%s: links of %s: %w", s.dialect.Name, source, err)
	}

	for relation, targets := range existing {
		for _, target := range targets {
			if contains(links[relation], target) {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				s.dialect.Rebind(`DELETE FROM record_links WHERE source_id = ? AND relation = ? AND target_id = ?`),
				source, relation, target,
			); err != nil {
				return fmt.Errorf("%s: delete link %s -> %s: %w", s.dialect.Name, source, target, err)
			}
		}
	}
	for _, relation := range domain.SortedRelations(links) {
		for _, target := range links[relation] {
			if contains(existing[relation], target) {
				continue
			}
			existing[relation] = append(existing[relation], target)
			if _, err := tx.ExecContext(ctx,
				s.dialect.Rebind(`INSERT INTO record_links (source_id, relation, target_id) VALUES (?, ?, ?)`),
				source, relation, target,
			); err != nil {
				return fmt.Errorf("%s: insert link %s -> %s: %w", s.dialect.Name, source, target, err)
			}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
