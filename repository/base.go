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
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

// DefaultKeyChunkSize bounds the number of keys matched by one SELECT.
const DefaultKeyChunkSize = 500

type baseRepositoryImpl[T any] struct {
	db           bun.IDB
	columns      []string
	keyChunkSize int
}

// NewRepository returns a generic repository backed by the provided Bun DB,
// transaction or connection, addressing rows by PT's primary key columns.
func NewRepository[T any, PT Record[T]](db bun.IDB) Repository[T] {
	return newBaseRepository[T](db, PT(new(T)).PrimaryKeyColumns(), DefaultKeyChunkSize)
}

func newBaseRepository[T any](db bun.IDB, columns []string, keyChunkSize int) *baseRepositoryImpl[T] {
	if keyChunkSize <= 0 {
		keyChunkSize = DefaultKeyChunkSize
	}
	return &baseRepositoryImpl[T]{
		db:           db,
		columns:      append([]string(nil), columns...),
		keyChunkSize: keyChunkSize,
	}
}

func (r *baseRepositoryImpl[T]) PrimaryKeyColumns() []string { return slices.Clone(r.columns) }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T]) ValsToSlice(entity ...*T) []*T {
	entities := make([]*T, len(entity))
	copy(entities, entity)
	return entities
}

// conn picks the transaction when there is one.
func (r *baseRepositoryImpl[T]) conn(tx *bun.Tx) bun.IDB {
	if tx != nil {
		return *tx
	}
	return r.db
}

// table returns Bun's metadata for T.
func (r *baseRepositoryImpl[T]) table() *schema.Table {
	return r.db.Dialect().Tables().Get(reflect.TypeFor[T]())
}

// dataColumns lists T's non-key columns, the default upsert SET list.
func (r *baseRepositoryImpl[T]) dataColumns() []string {
	var columns []string
	for _, field := range r.table().Fields {
		if field.IsPK || slices.Contains(r.columns, field.Name) {
			continue
		}
		columns = append(columns, field.Name)
	}
	return columns
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, key Key) (*T, error) {
	return r.GetOneWithTx(ctx, nil, key)
}

func (r *baseRepositoryImpl[T]) GetOneWithTx(ctx context.Context, tx *bun.Tx, key Key) (*T, error) {
	cond, args, err := keyCondition(r.columns, key)
	if err != nil {
		return nil, err
	}
	var entity T
	err = r.conn(tx).NewSelect().Model(&entity).Where(cond, args...).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	var entities []*T
	err := r.db.NewSelect().Model(&entities).Scan(ctx)
	return entities, err
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filters ...types.Predicate) ([]*T, error) {
	return r.ListWithTx(ctx, nil, filters...)
}

func (r *baseRepositoryImpl[T]) ListWithTx(ctx context.Context, tx *bun.Tx, filters ...types.Predicate) ([]*T, error) {
	entities := make([]*T, 0)
	query, err := applyFilters(r.conn(tx).NewSelect().Model(&entities), filters)
	if err != nil {
		return nil, err
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) ListByKeys(ctx context.Context, keys []Key) ([]*T, error) {
	return r.ListByKeysWithTx(ctx, nil, keys)
}

func (r *baseRepositoryImpl[T]) ListByKeysWithTx(ctx context.Context, tx *bun.Tx, keys []Key) ([]*T, error) {
	entities := make([]*T, 0, len(keys))
	if len(keys) == 0 {
		return entities, nil
	}
	for _, chunk := range chunkKeys(keys, r.keyChunkSize) {
		cond, args, err := keysCondition(r.columns, chunk)
		if err != nil {
			return nil, err
		}
		var found []*T
		if err := r.conn(tx).NewSelect().Model(&found).Where(cond, args...).Scan(ctx); err != nil {
			return nil, err
		}
		entities = append(entities, found...)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	var entities []*T
	err := r.db.NewSelect().Model(&entities).Where(query, args...).Scan(ctx)
	return entities, err
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	var entities []*T
	query, err := applyFilters(r.db.NewSelect().Model(&entities), pageRequest.GetFilters())
	if err != nil {
		return nil, err
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	return r.CreateWithTx(ctx, nil, entity...)
}

func (r *baseRepositoryImpl[T]) CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	entities := r.ValsToSlice(entity...)
	_, err := r.conn(tx).NewInsert().Model(&entities).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.multipleUpsert(ctx, nil, fields, duplicateKeys, entity...)
}

func (r *baseRepositoryImpl[T]) UpsertWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.multipleUpsert(ctx, tx, fields, duplicateKeys, entity...)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) error {
	return r.UpdateWithTx(ctx, nil, entity)
}

func (r *baseRepositoryImpl[T]) UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error {
	_, err := r.conn(tx).NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, key Key) (int64, error) {
	return r.DeleteWithTx(ctx, nil, key)
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, tx *bun.Tx, key Key) (int64, error) {
	cond, args, err := keyCondition(r.columns, key)
	if err != nil {
		return 0, err
	}
	res, err := r.conn(tx).NewDelete().Model((*T)(nil)).Where(cond, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *baseRepositoryImpl[T]) multipleUpsert(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	if len(fields) == 0 {
		fields = r.dataColumns()
	}
	if len(duplicateKeys) == 0 {
		duplicateKeys = r.columns
	}
	if len(duplicateKeys) == 0 {
		return ErrEmptyPrimaryKey
	}

	idb := r.conn(tx)
	entities := r.ValsToSlice(entity...)
	features := idb.Dialect().Features()

	switch {
	case len(fields) == 0:
		// Key-only table: nothing to update, only insert missing keys.
		return r.insertIgnore(ctx, idb, duplicateKeys, entities)
	case features.Has(feature.InsertOnConflict):
		return r.upsertWithPostgresqlOrSQLite(ctx, idb.NewInsert(), fields, duplicateKeys, entities)
	case features.Has(feature.InsertOnDuplicateKey):
		return r.upsertWithMySQL(ctx, idb.NewInsert(), fields, entities)
	default:
		// Fallback: Separate insert/update logic
		return r.upsertFallback(ctx, idb, entities)
	}
}

func (r *baseRepositoryImpl[T]) insertIgnore(ctx context.Context, idb bun.IDB, duplicateKeys []string, entities []*T) error {
	query := idb.NewInsert().Model(&entities)
	if idb.Dialect().Features().Has(feature.InsertOnConflict) {
		query = query.On("CONFLICT (" + identList(duplicateKeys) + ") DO NOTHING")
	} else {
		query = query.Ignore()
	}
	_, err := query.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertWithMySQL(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", field, field))
	}
	_, err := insertQuery.
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertWithPostgresqlOrSQLite(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, duplicateKeys []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", field, field))
	}
	_, err := insertQuery.
		Model(&entities).
		On("CONFLICT (" + identList(duplicateKeys) + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, idb bun.IDB, entities []*T) error {
	for _, entity := range entities {
		_, err := idb.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := idb.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %w", err, updateErr)
			}
		}
	}
	return nil
}

func identList(columns []string) string {
	return strings.Join(columns, ", ")
}
