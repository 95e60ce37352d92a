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

	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// CrudRepository defines basic CRUD operations for a generic entity type.
// Entities are addressed by their primary Key.
type CrudRepository[T any] interface {
	// GetOne returns sql.ErrNoRows when no row has the key.
	GetOne(ctx context.Context, key Key) (*T, error)

	GetAll(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filters ...types.Predicate) ([]*T, error)

	// ListByKeys selects every row whose key is in keys, in chunks.
	ListByKeys(ctx context.Context, keys []Key) ([]*T, error)

	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	Create(ctx context.Context, entity ...*T) error

	// Upsert inserts entities and updates fields on key conflicts. Empty
	// fields means every non-key column; empty duplicateKeys the primary key.
	Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error

	Update(ctx context.Context, entity *T) error

	// Delete removes the row with key and reports the rows affected.
	Delete(ctx context.Context, key Key) (int64, error)
}

// TransactionRepository defines CRUD operations executed within a transaction.
// A nil tx runs the statement on the repository's connection.
type TransactionRepository[T any] interface {
	GetOneWithTx(ctx context.Context, tx *bun.Tx, key Key) (*T, error)
	ListWithTx(ctx context.Context, tx *bun.Tx, filters ...types.Predicate) ([]*T, error)
	ListByKeysWithTx(ctx context.Context, tx *bun.Tx, keys []Key) ([]*T, error)
	CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error
	UpsertWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error
	UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error
	DeleteWithTx(ctx context.Context, tx *bun.Tx, key Key) (int64, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository combines CRUD, pagination, and transactional operations and
// exposes Bun query builders for advanced use cases.
type Repository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]
	TransactionRepository[T]
	PrimaryKeyColumns() []string
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
