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
	"reflect"

	"github.com/uptrace/bun"
)

// MigrationManager creates the tables of SQL models and adds the configured
// foreign keys. It does not diff or alter existing tables.
type MigrationManager struct {
	db          bun.IDB
	logger      Logger
	foreignKeys *ForeignKeyManager
}

// NewMigrationManager returns a manager for db. When the global configuration
// enables foreign keys, constraints are loaded from its ForeignKeyFile.
func NewMigrationManager(db bun.IDB, logger Logger) *MigrationManager {
	mm := &MigrationManager{db: db, logger: logger}
	if cfg := GetConfig(); cfg != nil && cfg.DataMigrateConfig.EnableForeignKey && cfg.DataMigrateConfig.ForeignKeyFile != "" {
		mm.foreignKeys = NewConfigurableForeignKeyManager(logger, cfg.DataMigrateConfig.ForeignKeyFile).ForeignKeyManager
	}
	return mm
}

// WithForeignKeys sets the constraints added after table creation.
func (mm *MigrationManager) WithForeignKeys(fkm *ForeignKeyManager) *MigrationManager {
	mm.foreignKeys = fkm
	return mm
}

// RunMigrations creates the tables of every model in the default registry.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	return mm.CreateTables(ctx, GetRegisteredModels()...)
}

// CreateTables creates a table for each model that does not have one yet, in
// priority order, then adds foreign keys.
func (mm *MigrationManager) CreateTables(ctx context.Context, models ...SQLModel) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	EnableQuerySilent(true)
	defer EnableQuerySilent(false)

	for _, model := range models {
		instance := model.Instance()
		if _, err := mm.db.NewCreateTable().Model(instance).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", modelName(instance), err)
		}
		if mm.logger != nil {
			mm.logger.Debug("Table ready", "model", modelName(instance))
		}
	}

	if mm.foreignKeys != nil {
		if errs := mm.foreignKeys.ValidateConstraints(); len(errs) > 0 {
			return fmt.Errorf("invalid foreign key constraints: %v", errs)
		}
		return mm.foreignKeys.AddAllForeignKeys(ctx, mm.db)
	}
	return nil
}

// DropTables drops the tables of the given models in reverse priority order.
func (mm *MigrationManager) DropTables(ctx context.Context, models ...SQLModel) error {
	for i := len(models) - 1; i >= 0; i-- {
		instance := models[i].Instance()
		if _, err := mm.db.NewDropTable().Model(instance).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table for %s: %w", modelName(instance), err)
		}
	}
	return nil
}

func modelName(model interface{}) string {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
