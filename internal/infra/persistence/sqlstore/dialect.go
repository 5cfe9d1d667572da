package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	// Name identifies the dialect in error messages.
	Name string
	// Numbered switches "?" placeholders to "$1", "$2", ... form.
	Numbered bool
	// Schema lists the statements creating the record tables.
	Schema []string
}

// SQLite is the dialect used with modernc.org/sqlite.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			version TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS record_links (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			target_id TEXT NOT NULL,
			UNIQUE (source_id, relation, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_links_target ON record_links(target_id, seq)`,
	},
}

// Postgres is the dialect used with the pgx stdlib driver.
var Postgres = Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			version TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS record_links (
			seq BIGSERIAL PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			target_id TEXT NOT NULL,
			UNIQUE (source_id, relation, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_links_target ON record_links(target_id, seq)`,
	},
}

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
