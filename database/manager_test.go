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

package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

type department struct {
	bun.BaseModel `bun:"table:departments"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type staff struct {
	bun.BaseModel `bun:"table:staff"`

	Name   string `bun:"name,pk"`
	DeptID int64  `bun:"dept_id"`
}

func sqliteConfig(name string) *ConnectionConfig {
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DSN = "file:" + name + "?mode=memory&cache=shared"
	cfg.HealthCheckInterval = 0
	return cfg
}

func TestDatabaseManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	dm := NewDatabaseManager(sqliteConfig("lifecycle"))
	dm.SetLogger(NopLogger{})

	require.NoError(t, dm.Connect(ctx))
	require.NoError(t, dm.Connect(ctx))
	require.NotNil(t, dm.GetDB())
	require.NoError(t, dm.Ping(ctx))

	status := dm.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, dm.GetStats().MaxOpenConns, "memory sqlite is pinned to one connection")

	require.NoError(t, dm.Reconnect(ctx))
	require.NoError(t, dm.Ping(ctx))

	require.NoError(t, dm.Disconnect())
	assert.Nil(t, dm.GetDB())
	assert.Error(t, dm.Ping(ctx))
	assert.False(t, dm.HealthCheck(ctx).Healthy)
	assert.Equal(t, &DBStats{}, dm.GetStats())
}

func TestSQLiteLockingParameters(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"memory", "file::memory:?cache=shared", "file::memory:?cache=shared"},
		{"named memory", "file:x?mode=memory&cache=shared", "file:x?mode=memory&cache=shared"},
		{"file", "staff.db", "staff.db?_pragma=busy_timeout(5000)&_busy_timeout=5000&_txlock=immediate"},
		{"file with query", "file:staff.db?cache=private", "file:staff.db?cache=private&_pragma=busy_timeout(5000)&_busy_timeout=5000&_txlock=immediate"},
		{"caller timeout kept", "staff.db?_pragma=busy_timeout(100)", "staff.db?_pragma=busy_timeout(100)&_txlock=immediate"},
		{"caller settings kept", "staff.db?_busy_timeout=1&_txlock=deferred", "staff.db?_busy_timeout=1&_txlock=deferred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withSQLiteLocking(tt.dsn))
		})
	}
}

func TestFileSQLiteKeepsConfiguredPool(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = filepath.Join(t.TempDir(), "pool")
	cfg.HealthCheckInterval = 0
	dm := NewDatabaseManager(cfg)
	dm.SetLogger(NopLogger{})
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })

	assert.Equal(t, 100, dm.GetStats().MaxOpenConns)
}

func TestFileSQLiteSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = filepath.Join(t.TempDir(), "writers")
	cfg.HealthCheckInterval = 0
	dm := NewDatabaseManager(cfg)
	dm.SetLogger(NopLogger{})
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })

	db := dm.GetDB()
	_, err := db.NewCreateTable().Model((*staff)(nil)).Exec(ctx)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				var n int
				if err := tx.NewSelect().Model((*staff)(nil)).ColumnExpr("count(*)").Scan(ctx, &n); err != nil {
					return err
				}
				_, err := tx.NewInsert().Model(&staff{Name: fmt.Sprintf("s%02d", i), DeptID: int64(n)}).Exec(ctx)
				return err
			})
		})
	}
	require.NoError(t, g.Wait())

	count, err := db.NewSelect().Model((*staff)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, count)
}

func TestDatabaseFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewDatabaseFactory().CreateFromConfig(&ConnectionConfig{Type: "oracle"})
	assert.Error(t, err)

	_, err = NewDatabaseFactory().CreateFromConfig(nil)
	assert.Error(t, err)
}

func TestDatabaseFactoryValidatesRepositoryConfig(t *testing.T) {
	cfg := &Config{ConnectionConfig: *sqliteConfig("factoryrepo"), RepositoryConfig: DefaultRepositoryConfig()}

	cfg.RepositoryConfig.ExecutionModel = "threads"
	f := NewDatabaseFactory()
	_, err := f.CreateFromDatabaseConfig(cfg)
	assert.ErrorContains(t, err, `invalid repository execution model "threads"`)
	assert.Nil(t, f.GetManager())

	cfg.RepositoryConfig.ExecutionModel = "sequential"
	cfg.RepositoryConfig.KeyChunkSize = -1
	_, err = f.CreateFromDatabaseConfig(cfg)
	assert.ErrorContains(t, err, "key chunk size")

	cfg.RepositoryConfig = RepositoryConfig{ExecutionModel: "Concurrent", MaxConcurrency: 0}
	manager, err := f.CreateFromDatabaseConfig(cfg)
	require.NoError(t, err)
	assert.Same(t, manager, f.GetManager())
	assert.Equal(t, cfg.RepositoryConfig, f.RepositoryConfig())

	_, err = InitDatabaseWithOptions(&Config{
		ConnectionConfig: *sqliteConfig("initrepo"),
		RepositoryConfig: RepositoryConfig{ExecutionModel: "bogus"},
	}, false)
	assert.ErrorContains(t, err, "invalid repository execution model")
}

func TestMigrationManagerCreateTables(t *testing.T) {
	ctx := context.Background()
	dm := NewDatabaseManager(sqliteConfig("migrations"))
	dm.SetLogger(NopLogger{})
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })
	db := dm.GetDB()

	registry := NewModelRegistry()
	registry.Register(NewModelAdapter((*staff)(nil), 2))
	registry.Register(NewModelAdapter((*department)(nil), 1))
	registry.Register(NewModelAdapter((*staff)(nil), 3))
	models := registry.Models()
	require.Len(t, models, 2)
	assert.Equal(t, 1, models[0].Priority())
	assert.Equal(t, 3, models[1].Priority())

	mm := NewMigrationManager(db, NopLogger{})
	require.NoError(t, mm.CreateTables(ctx, models...))
	require.NoError(t, mm.CreateTables(ctx, models...))

	_, err := db.NewInsert().Model(&department{Name: "R&D"}).Exec(ctx)
	require.NoError(t, err)
	n, err := db.NewSelect().Model((*department)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, mm.DropTables(ctx, models...))
	_, err = db.NewSelect().Model((*department)(nil)).Count(ctx)
	ok, kind := IsSqlError(err)
	assert.True(t, ok)
	assert.Equal(t, NoTableErr, kind)
}

func TestMigrationManagerRejectsInvalidForeignKeys(t *testing.T) {
	ctx := context.Background()
	dm := NewDatabaseManager(sqliteConfig("badfk"))
	dm.SetLogger(NopLogger{})
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })

	mm := NewMigrationManager(dm.GetDB(), NopLogger{}).
		WithForeignKeys(NewForeignKeyManager(NopLogger{}, ForeignKeyConstraint{Table: "staff"}))
	err := mm.CreateTables(ctx, NewModelAdapter((*staff)(nil), 1))
	assert.ErrorContains(t, err, "invalid foreign key constraints")
}
