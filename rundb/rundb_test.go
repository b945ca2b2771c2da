// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rundb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"testing"

	"github.com/blackcat-daq/blackcat/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open rundb: %+v", err)
	}
	defer db.Close()
}

func TestNewRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open rundb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		run, err := db.NewRun(ctx, "dlm-2026-08-30")
		if err != nil {
			t.Fatalf("could not create run: %+v", err)
		}

		if got, want := run, int64(1); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}

		err = db.AddDelay(ctx, run, "0", 12044.11765)
		if err != nil {
			t.Fatalf("could not add delay: %+v", err)
		}
		return nil
	})
}

func TestDelays(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open rundb: %+v", err)
	}
	defer db.Close()

	want := []Delay{
		{Label: "0", Value: 12044.11765},
		{Label: "1", Value: 12040.00042},
		{Label: "3.0", Value: 600.0},
	}
	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"label", "value"},
		Values: [][]driver.Value{
			{want[0].Label, want[0].Value},
			{want[1].Label, want[1].Value},
			{want[2].Label, want[2].Value},
		},
	}, func(ctx context.Context) error {
		delays, err := db.Delays(ctx, 1)
		if err != nil {
			t.Fatalf("could not retrieve delays: %+v", err)
		}

		if got, want := delays, want; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid delays:\ngot= %v\nwant=%v", got, want)
		}
		return nil
	})
}

func TestLastRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open rundb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id"},
		Values: [][]driver.Value{
			{int64(42)},
		},
	}, func(ctx context.Context) error {
		run, err := db.LastRun(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last run: %+v", err)
		}

		if got, want := run, int64(42); got != want {
			t.Fatalf("invalid last run: got=%d, want=%d", got, want)
		}
		return nil
	})
}
