// Package testutil provides an in-memory stand-in for the Postgres record
// tables so the pgx-backed store can be exercised without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Row is one entry of the records table.
type Row struct {
	ID      string
	Kind    string
	Version string
	Payload string
}

// Link is one entry of the record_links table.
type Link struct {
	Seq      int64
	Source   string
	Relation string
	Target   string
}

// StubConn interprets the statements issued by sqlstore against maps. A
// transaction snapshots the tables on begin and restores them on rollback.
type StubConn struct {
	mu         sync.Mutex
	statements []string
	records    map[string]Row
	links      []Link
	seq        int64
	saved      *snapshot

	// FailPing makes Ping return an error.
	FailPing bool
	// FailCommit makes every commit fail (and roll back).
	FailCommit bool
	// FailOn fails statements starting with this prefix, after normalization.
	FailOn string
	// Competing is committed by another writer just before the next insert
	// of the same id, so that insert hits the primary key.
	Competing *Row
}

type snapshot struct {
	records map[string]Row
	links   []Link
	seq     int64
}

// NewStubDB returns a *sql.DB whose single connection is the returned stub.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{records: make(map[string]Row)}
	return sql.OpenDB(connector{conn: conn}), conn
}

type connector struct {
	conn *StubConn
}

func (c connector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c connector) Driver() driver.Driver                        { return stubDriver{conn: c.conn} }

type stubDriver struct {
	conn *StubConn
}

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Statements returns the normalized statements seen so far.
func (c *StubConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.statements)
}

// Record returns the stored row for id.
func (c *StubConn) Record(id string) (Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.records[id]
	return row, ok
}

// Links returns the stored link rows in sequence order.
func (c *StubConn) Links() []Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.links)
}

// Prepare implements driver.Conn; every statement goes through the context
// methods instead.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepared statements are not supported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("connection refused")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = &snapshot{records: maps.Clone(c.records), links: slices.Clone(c.links), seq: c.seq}
	return stubTx{conn: c}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCommit {
		c.restore()
		return fmt.Errorf("commit failed")
	}
	c.saved = nil
	return nil
}

func (t stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restore()
	return nil
}

func (c *StubConn) restore() {
	if c.saved == nil {
		return
	}
	c.records, c.links, c.seq = c.saved.records, c.saved.links, c.saved.seq
	c.saved = nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stmt, err := c.record(query)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(stmt, "CREATE "):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO records "):
		id := arg(args, 0)
		if c.Competing != nil && c.Competing.ID == id {
			c.records[id] = *c.Competing
			if c.saved != nil {
				c.saved.records[id] = *c.Competing
			}
			c.Competing = nil
		}
		if _, ok := c.records[id]; ok {
			return nil, fmt.Errorf("duplicate key value violates unique constraint \"records_pkey\"")
		}
		c.records[id] = Row{ID: id, Kind: arg(args, 1), Version: arg(args, 2), Payload: arg(args, 3)}
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(stmt, "UPDATE records SET kind = $1, version = $2, payload = $3 WHERE id = $4 AND version = $5"):
		id := arg(args, 3)
		row, ok := c.records[id]
		if !ok || row.Version != arg(args, 4) {
			return driver.RowsAffected(0), nil
		}
		c.records[id] = Row{ID: id, Kind: arg(args, 0), Version: arg(args, 1), Payload: arg(args, 2)}
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(stmt, "INSERT INTO record_links "):
		link := Link{Source: arg(args, 0), Relation: arg(args, 1), Target: arg(args, 2)}
		for _, l := range c.links {
			if l.Source == link.Source && l.Relation == link.Relation && l.Target == link.Target {
				return nil, fmt.Errorf("duplicate key value violates unique constraint on record_links")
			}
		}
		c.seq++
		link.Seq = c.seq
		c.links = append(c.links, link)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(stmt, "DELETE FROM record_links WHERE source_id = $1 AND relation = $2 AND target_id = $3"):
		before := len(c.links)
		c.links = slices.DeleteFunc(c.links, func(l Link) bool {
			return l.Source == arg(args, 0) && l.Relation == arg(args, 1) && l.Target == arg(args, 2)
		})
		return driver.RowsAffected(int64(before - len(c.links))), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", stmt)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stmt, err := c.record(query)
	if err != nil {
		return nil, err
	}
	id := arg(args, 0)
	switch {
	case strings.HasPrefix(stmt, "SELECT kind, version, payload FROM records WHERE id = $1"):
		out := &stubRows{cols: []string{"kind", "version", "payload"}}
		if row, ok := c.records[id]; ok {
			out.rows = append(out.rows, []driver.Value{row.Kind, row.Version, row.Payload})
		}
		return out, nil
	case strings.HasPrefix(stmt, "SELECT version FROM records WHERE id = $1"):
		out := &stubRows{cols: []string{"version"}}
		if row, ok := c.records[id]; ok {
			out.rows = append(out.rows, []driver.Value{row.Version})
		}
		return out, nil
	case strings.HasPrefix(stmt, "SELECT relation, target_id FROM record_links WHERE source_id = $1"):
		out := &stubRows{cols: []string{"relation", "target_id"}}
		for _, l := range c.links {
			if l.Source == id {
				out.rows = append(out.rows, []driver.Value{l.Relation, l.Target})
			}
		}
		return out, nil
	case strings.HasPrefix(stmt, "SELECT relation, source_id FROM record_links WHERE target_id = $1"):
		out := &stubRows{cols: []string{"relation", "source_id"}}
		for _, l := range c.links {
			if l.Target == id {
				out.rows = append(out.rows, []driver.Value{l.Relation, l.Source})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported query: %s", stmt)
}

// record normalizes whitespace, logs the statement and applies FailOn.
func (c *StubConn) record(query string) (string, error) {
	stmt := strings.Join(strings.Fields(query), " ")
	c.statements = append(c.statements, stmt)
	if c.FailOn != "" && strings.HasPrefix(stmt, c.FailOn) {
		return "", fmt.Errorf("injected failure: %s", stmt)
	}
	return stmt, nil
}

func arg(args []driver.NamedValue, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
