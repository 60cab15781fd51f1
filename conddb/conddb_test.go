// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/itsfee/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestTaskParams(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"name", "value"},
		Values: [][]driver.Value{
			{"reset_every_n_cycles", "2"},
			{"decode_cdw", "true"},
			{"reset_every_n_cycles", "3"},
		},
	}, func(ctx context.Context) error {
		params, err := db.TaskParams(ctx, "ITSFEE")
		if err != nil {
			t.Fatalf("could not retrieve task parameters: %+v", err)
		}

		want := map[string]string{
			"reset_every_n_cycles": "3",
			"decode_cdw":           "true",
		}
		if !reflect.DeepEqual(params, want) {
			t.Fatalf("invalid task parameters:\ngot= %v\nwant=%v", params, want)
		}

		last := fakedb.Last()
		if !strings.Contains(last.SQL, "task_params") {
			t.Fatalf("invalid query: %q", last.SQL)
		}
		if got, want := last.Args, []driver.Value{"ITSFEE"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid query args: got=%v, want=%v", got, want)
		}
		return nil
	})
}

func TestTaskParamsEmpty(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"name", "value"},
	}, func(ctx context.Context) error {
		params, err := db.TaskParams(ctx, "NOTHERE")
		if err != nil {
			t.Fatalf("could not retrieve task parameters: %+v", err)
		}
		if len(params) != 0 {
			t.Fatalf("invalid task parameters: %v", params)
		}
		return nil
	})
}

func TestLastRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"run"},
		Values: [][]driver.Value{
			{int64(505123)},
		},
	}, func(ctx context.Context) error {
		run, err := db.LastRun(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last run: %+v", err)
		}

		if got, want := run, uint32(505123); got != want {
			t.Fatalf("invalid last run: got=%d, want=%d", got, want)
		}

		qs := fakedb.Queries()
		if len(qs) != 1 || !strings.Contains(qs[0].SQL, "FROM runs") {
			t.Fatalf("invalid queries: %+v", qs)
		}
		return nil
	})
}

func TestQueryContext(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"task"},
		Values: [][]driver.Value{
			{"ITSFEE"},
			{"ITSTHR"},
		},
	}, func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, "SELECT DISTINCT task FROM task_params")
		if err != nil {
			t.Fatalf("could not query db: %+v", err)
		}
		defer rows.Close()

		var tasks []string
		for rows.Next() {
			var task string
			if err := rows.Scan(&task); err != nil {
				t.Fatalf("could not scan row: %+v", err)
			}
			tasks = append(tasks, task)
		}
		if err := rows.Err(); err != nil {
			t.Fatalf("could not iterate rows: %+v", err)
		}
		if got, want := tasks, []string{"ITSFEE", "ITSTHR"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid tasks: got=%v, want=%v", got, want)
		}
		return nil
	})
}
