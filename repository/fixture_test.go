/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/rowswap/database"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Employee struct {
	bun.BaseModel `bun:"table:employees"`

	Name   string `bun:"name,pk"`
	Gender string `bun:"gender,pk"`
	Age    int    `bun:"age,notnull"`
}

func (*Employee) PrimaryKeyColumns() []string { return []string{"name", "gender"} }

func (e *Employee) PrimaryKey() Key { return Key{e.Name, e.Gender} }

func emp(name string, age int) *Employee {
	return &Employee{Name: name, Gender: "male", Age: age}
}

type Keyless struct {
	bun.BaseModel `bun:"table:keyless"`

	Value string `bun:"value"`
}

func (*Keyless) PrimaryKeyColumns() []string { return nil }

func (*Keyless) PrimaryKey() Key { return nil }

var dsnReplacer = strings.NewReplacer("/", "_", " ", "_", "#", "_")

// newTestDB opens a private in-memory sqlite database with the employees
// table. One connection keeps the shared-cache database alive and
// serializes writers.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnReplacer.Replace(t.Name()))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*Employee)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)
	return db
}

// newFileTestDB opens a sqlite file through the connection manager with its
// default pool, so writers on separate connections compete for the lock.
func newFileTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = filepath.Join(t.TempDir(), "employees")
	cfg.HealthCheckInterval = 0
	dm := database.NewDatabaseManager(cfg)
	dm.SetLogger(database.NopLogger{})
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })
	require.Greater(t, dm.GetStats().MaxOpenConns, 1)

	db := dm.GetDB()
	_, err := db.NewCreateTable().Model((*Employee)(nil)).IfNotExists().Exec(ctx)
	require.NoError(t, err)
	return db
}

func seed(t *testing.T, db bun.IDB, rows ...*Employee) {
	t.Helper()
	if len(rows) == 0 {
		return
	}
	_, err := db.NewInsert().Model(&rows).Exec(context.Background())
	require.NoError(t, err)
}

// stored returns name -> age for every row, and the row count.
func stored(t *testing.T, db bun.IDB) (map[string]int, int) {
	t.Helper()
	var rows []*Employee
	require.NoError(t, db.NewSelect().Model(&rows).Scan(context.Background()))
	ages := make(map[string]int, len(rows))
	for _, row := range rows {
		ages[row.Name] = row.Age
	}
	return ages, len(rows)
}

func newTestManager(t *testing.T, db bun.IDB, opts ...Option) *Manager[Employee, *Employee] {
	t.Helper()
	opts = append([]Option{WithLogger(database.NopLogger{})}, opts...)
	m, err := NewManager[Employee](db, opts...)
	require.NoError(t, err)
	return m
}

var errConnectionLost = errors.New("connection lost")

// faultySession wraps a real session and injects failures into its units
// of work.
type faultySession struct {
	Session[Employee]

	beginErr error
	// commitConflicts fails that many commits with a stale-data conflict.
	commitConflicts atomic.Int32
	// deleteMisses makes that many deletes report zero rows affected
	// without deleting.
	deleteMisses atomic.Int32
	// insertErr, when set, is consulted before every insert.
	insertErr func(records []*Employee) error
	// upsertErr, when set, is consulted before every upsert.
	upsertErr func(records []*Employee) error

	begins atomic.Int32
}

func newFaultySession(db bun.IDB) *faultySession {
	return &faultySession{Session: NewBunSession[Employee](db, DefaultKeyChunkSize)}
}

func (s *faultySession) Begin(ctx context.Context) (UnitOfWork[Employee], error) {
	s.begins.Add(1)
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	unit, err := s.Session.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyUnit{UnitOfWork: unit, session: s}, nil
}

type faultyUnit struct {
	UnitOfWork[Employee]
	session *faultySession
}

func (u *faultyUnit) Insert(ctx context.Context, records ...*Employee) error {
	if u.session.insertErr != nil {
		if err := u.session.insertErr(records); err != nil {
			return err
		}
	}
	return u.UnitOfWork.Insert(ctx, records...)
}

func (u *faultyUnit) Upsert(ctx context.Context, records ...*Employee) error {
	if u.session.upsertErr != nil {
		if err := u.session.upsertErr(records); err != nil {
			return err
		}
	}
	return u.UnitOfWork.Upsert(ctx, records...)
}

func (u *faultyUnit) Delete(ctx context.Context, record *Employee) (int64, error) {
	if u.session.deleteMisses.Add(-1) >= 0 {
		return 0, nil
	}
	return u.UnitOfWork.Delete(ctx, record)
}

func (u *faultyUnit) Commit() error {
	if u.session.commitConflicts.Add(-1) >= 0 {
		return &ConflictError{Op: "commit", Kind: ErrStaleData}
	}
	return u.UnitOfWork.Commit()
}
