// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb stores averaged delay reports of the timing network,
// one set of labelled delays per calibration run.
package rundb // import "github.com/blackcat-daq/blackcat/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// Delay is one labelled delay value of a run, in ns. The label is a
// channel index for the timing-network decoder, a channel pair for the
// external USB one.
type Delay struct {
	Label string
	Value float64
}

// DB exposes convenience methods to store and retrieve delay reports
// from the run database.
type DB struct {
	db   *sql.DB
	name string // name of the run database
}

// Open opens a connection to the run database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
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
		return fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// NewRun registers a new calibration run and returns its identifier.
func (db *DB) NewRun(ctx context.Context, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (name, datetime) VALUES (?, NOW())",
		name,
	)
	if err != nil {
		return 0, fmt.Errorf("rundb: could not insert run %q: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rundb: could not get run id for %q: %w", name, err)
	}

	return id, nil
}

// AddDelay stores one labelled delay value for the given run.
func (db *DB) AddDelay(ctx context.Context, run int64, label string, value float64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO delays (run, label, value) VALUES (?, ?, ?)",
		run, label, value,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not insert delay (run=%d, label=%q): %w", run, label, err)
	}

	return nil
}

// Delays retrieves the delay report of the given run.
func (db *DB) Delays(ctx context.Context, run int64) ([]Delay, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var delays []Delay
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT label, value FROM delays WHERE run=? ORDER BY label",
		run,
	)
	if err != nil {
		return delays, fmt.Errorf("rundb: could not query delays for run %d: %w", run, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d Delay
		err = rows.Scan(&d.Label, &d.Value)
		if err != nil {
			return delays, fmt.Errorf("rundb: could not scan delay for run %d: %w", run, err)
		}
		delays = append(delays, d)
	}

	if err := rows.Err(); err != nil {
		return delays, fmt.Errorf("rundb: could not scan db for delays: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return delays, fmt.Errorf("rundb: context error while retrieving delays: %w", err)
	}

	return delays, nil
}

// LastRun returns the identifier of the most recent run.
func (db *DB) LastRun(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run int64
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id FROM runs ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("rundb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("rundb: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("rundb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("rundb: context error while retrieving last run: %w", err)
	}

	return run, nil
}
