// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory SQL driver, registered as "fakedb",
// serving canned rows and recording the statements it receives.
package fakedb // import "github.com/go-lpc/itsfee/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
)

var db struct {
	mu   sync.Mutex
	rows Rows
	qs   []Query
}

// Query describes a statement sent to the fake DB.
type Query struct {
	SQL  string
	Args []driver.Value
}

// Run runs f with the fake DB serving rows to every query.
// Calls to Run are serialized.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rows = rows
	db.qs = db.qs[:0]

	return f(ctx)
}

// Last returns the last statement sent to the fake DB.
// Last must be called from within the function passed to Run.
func Last() Query {
	if len(db.qs) == 0 {
		return Query{}
	}
	return db.qs[len(db.qs)-1]
}

// Queries returns all the statements sent to the fake DB, in order.
// Queries must be called from within the function passed to Run.
func Queries() []Query {
	return append([]Query(nil), db.qs...)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(q string) (driver.Stmt, error) {
	return &Stmt{sql: q}, nil
}

func (c *Conn) Close() error { return nil }

func (c *Conn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("fakedb: transactions not supported")
}

type Stmt struct {
	sql string
}

func (stmt *Stmt) Close() error { return nil }

// NumInput returns -1: placeholders are not checked.
func (stmt *Stmt) NumInput() int { return -1 }

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	stmt.record(args)
	return driver.RowsAffected(0), nil
}

// Query records the statement and serves the rows of the current Run.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	stmt.record(args)
	rows := db.rows
	return &rows, nil
}

func (stmt *Stmt) record(args []driver.Value) {
	db.qs = append(db.qs, Query{
		SQL:  stmt.sql,
		Args: append([]driver.Value(nil), args...),
	})
}

// Rows holds the column names and values served by the fake DB.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string { return rows.Names }
func (rows *Rows) Close() error { return nil }

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
