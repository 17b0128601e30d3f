// Package testutil provides an in-process database/sql driver that stands in
// for PostgreSQL in ledger tests. It understands just enough SQL for the
// outcomes table: INSERT with a column list and SELECT with an optional
// single equality predicate.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var registered atomic.Int64

// StubConn records every statement and keeps inserted rows per table.
type StubConn struct {
	mu     sync.Mutex
	Execs  []string
	tables map[string][]map[string]any

	FailPing   bool
	FailExec   bool
	FailTables map[string]bool

	Commits   int
	Rollbacks int
}

// NewStubDB returns a *sql.DB whose only connection is the returned StubConn.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{tables: map[string][]map[string]any{}}
	name := fmt.Sprintf("fluxrepair-stubpg-%d", registered.Add(1))
	sql.Register(name, connector{conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows inserted into table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.tables[table]...)
}

type connector struct{ conn *StubConn }

func (d connector) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepared statements unsupported: %s", query)
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return tx{c}, nil
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub: ping refused")
	}
	return nil
}

func (c *StubConn) failing(table string) error {
	if c.FailTables[table] {
		return fmt.Errorf("stub: table %s unavailable", table)
	}
	return nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec refused")
	}
	stmt := parse(query)
	if stmt.verb != "insert" {
		return driver.RowsAffected(0), nil
	}
	if stmt.err != nil {
		return nil, stmt.err
	}
	if err := c.failing(stmt.table); err != nil {
		return nil, err
	}
	if len(stmt.columns) != len(args) {
		return nil, fmt.Errorf("stub: %d columns but %d arguments", len(stmt.columns), len(args))
	}
	row := make(map[string]any, len(args))
	for i, col := range stmt.columns {
		row[col] = args[i].Value
	}
	c.tables[stmt.table] = append(c.tables[stmt.table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stmt := parse(query)
	if stmt.verb != "select" || stmt.err != nil {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	if err := c.failing(stmt.table); err != nil {
		return nil, err
	}
	out := &rows{columns: stmt.columns}
	for _, row := range c.tables[stmt.table] {
		if stmt.where != "" && len(args) > 0 && row[stmt.where] != args[0].Value {
			continue
		}
		values := make([]driver.Value, len(stmt.columns))
		for i, col := range stmt.columns {
			values[i] = row[col]
		}
		out.values = append(out.values, values)
	}
	return out, nil
}

type tx struct{ conn *StubConn }

func (t tx) Commit() error {
	t.conn.mu.Lock()
	t.conn.Commits++
	t.conn.mu.Unlock()
	return nil
}

func (t tx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.Rollbacks++
	t.conn.mu.Unlock()
	return nil
}

type rows struct {
	columns []string
	values  [][]driver.Value
	next    int
}

func (r *rows) Columns() []string { return r.columns }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next == len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

type statement struct {
	verb    string
	table   string
	columns []string
	where   string
	err     error
}

// parse recognises "INSERT INTO t(a, b) VALUES(...)" and
// "SELECT a, b FROM t [WHERE c = $1 ...]".
func parse(query string) statement {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(q, "insert into "):
		rest := strings.TrimPrefix(q, "insert into ")
		table, cols, ok := strings.Cut(rest, "(")
		if !ok {
			return statement{verb: "insert", err: fmt.Errorf("stub: cannot parse %q", query)}
		}
		cols, _, ok = strings.Cut(cols, ")")
		if !ok {
			return statement{verb: "insert", err: fmt.Errorf("stub: cannot parse %q", query)}
		}
		return statement{verb: "insert", table: strings.TrimSpace(table), columns: columns(cols)}
	case strings.HasPrefix(q, "select "):
		cols, from, ok := strings.Cut(strings.TrimPrefix(q, "select "), " from ")
		fields := strings.Fields(from)
		if !ok || len(fields) == 0 {
			return statement{verb: "select", err: fmt.Errorf("stub: cannot parse %q", query)}
		}
		st := statement{verb: "select", table: fields[0], columns: columns(cols)}
		if len(fields) >= 3 && fields[1] == "where" {
			st.where = fields[2]
		}
		return st
	default:
		return statement{verb: strings.SplitN(q, " ", 2)[0]}
	}
}

func columns(list string) []string {
	var out []string
	for _, col := range strings.Split(list, ",") {
		out = append(out, strings.TrimSpace(col))
	}
	return out
}
