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

package rowswap

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/rowswap/database"
	"github.com/tomoncle/rowswap/repository"
	"github.com/tomoncle/rowswap/types"
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

func (e *Employee) PrimaryKey() repository.Key { return repository.Key{e.Name, e.Gender} }

func TestServiceNotInitialized(t *testing.T) {
	svc := NewService[Employee]()
	_, err := svc.All(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.Manager()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestServiceWithDB(t *testing.T) {
	ctx := context.Background()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:service?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.NewCreateTable().Model((*Employee)(nil)).Exec(ctx)
	require.NoError(t, err)

	svc := NewServiceWithDB[Employee](db, repository.WithLogger(database.NopLogger{}))
	require.NoError(t, svc.Save(ctx,
		&Employee{Name: "Vitaliy", Gender: "male", Age: 30},
		&Employee{Name: "Igor", Gender: "male", Age: 31},
		&Employee{Name: "Anna", Gender: "female", Age: 29},
	))

	report, err := svc.Replace(ctx,
		&Employee{Name: "Vitaliy", Gender: "male", Age: 40},
		&Employee{Name: "Jack", Gender: "male", Age: 32},
	)
	require.NoError(t, err)
	assert.Equal(t, repository.TierBulk, report.Tier)

	got, ok, err := svc.Get(ctx, repository.Key{"Vitaliy", "male"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40, got.Age)

	males, err := svc.List(ctx, types.Eq("gender", "male"))
	require.NoError(t, err)
	assert.Len(t, males, 3)

	page, err := svc.Page(ctx, types.NewPageRequestWithOrders(1, 2, []string{"age DESC"}))
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Vitaliy", page.Items[0].Name)

	require.NoError(t, svc.Delete(ctx, &Employee{Name: "Anna", Gender: "female"}))
	assert.ErrorIs(t, svc.Delete(ctx, &Employee{Name: "Anna", Gender: "female"}), repository.ErrStaleData)

	require.NoError(t, svc.SaveOrUpdate(ctx, nil, nil, &Employee{Name: "Igor", Gender: "male", Age: 50}))
	older, err := svc.Query(ctx, "age >= ?", 40)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	m, err := svc.Manager()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "gender"}, m.PrimaryKeys())
	assert.NotNil(t, svc.SelectBuilder())
}

func TestServiceOverGlobalDatabase(t *testing.T) {
	ctx := context.Background()
	database.InitLogger(database.NopLogger{})
	database.RegisteredModel(database.NewModelAdapter((*Employee)(nil), 1))

	cfg := &database.Config{
		ConnectionConfig: *database.DefaultConnectionConfig(),
		DataMigrateConfig: database.DataMigrateConfig{
			EnableMigrateOnStartup: true,
		},
		RepositoryConfig: database.RepositoryConfig{
			ExecutionModel: "concurrent",
			MaxConcurrency: 2,
			KeyChunkSize:   10,
		},
	}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DSN = "file:global?mode=memory&cache=shared"
	cfg.ConnectionConfig.MaxOpenConns = 1
	cfg.ConnectionConfig.HealthCheckInterval = 0

	_, err := database.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })
	assert.True(t, database.GetHealthStatus(ctx).Healthy)

	svc := NewService[Employee]()
	report, err := svc.Replace(ctx,
		&Employee{Name: "Vitaliy", Gender: "male", Age: 30},
		&Employee{Name: "Vitaliy", Gender: "male", Age: 31},
	)
	require.NoError(t, err)
	assert.Equal(t, repository.TierIsolated, report.Tier)
	assert.Len(t, report.Dropped, 1)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
