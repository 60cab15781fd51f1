// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of the ITS FEE monitoring tasks.
package conddb // import "github.com/go-lpc/itsfee/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var (
	host = "localhost"
	usr  = "username"
	pwd  = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve conditions data
// and configuration data from the ITS QC database.
type DB struct {
	db   *sql.DB
	name string // name of the ITS QC database
}

// Open opens a connection to the ITS QC database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// TaskParams returns the name/value parameters stored for the named
// monitoring task. When a parameter was stored several times, the most
// recent value wins.
func (db *DB) TaskParams(ctx context.Context, task string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := make(map[string]string)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name, value FROM task_params WHERE task=? ORDER BY datetime ASC",
		task,
	)
	if err != nil {
		return params, fmt.Errorf("conddb: could not query parameters of task %q: %w", task, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		err = rows.Scan(&name, &value)
		if err != nil {
			return params, fmt.Errorf("conddb: could not get parameter of task %q: %w", task, err)
		}
		params[name] = value
	}

	if err := rows.Err(); err != nil {
		return params, fmt.Errorf("conddb: could not scan db for parameters of task %q: %w", task, err)
	}

	if err := ctx.Err(); err != nil {
		return params, fmt.Errorf("conddb: context error while retrieving parameters of task %q: %w", task, err)
	}

	return params, nil
}

// LastRun returns the number of the most recent run.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM runs ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("conddb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("conddb: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("conddb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("conddb: context error while retrieving last run: %w", err)
	}

	return run, nil
}
