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
	"errors"
	"sync"

	"github.com/tomoncle/rowswap/database"
	"github.com/tomoncle/rowswap/repository"
	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
)

// ErrNotInitialized is returned when the global database has not been set
// up with database.InitDB.
var ErrNotInitialized = errors.New("database is not initialized")

type Service[T any, PT repository.Record[T]] interface {
	// Get returns a single entity by its primary key, or (nil, false, nil).
	Get(ctx context.Context, key repository.Key) (*T, bool, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match every filter.
	List(ctx context.Context, filters ...types.Predicate) ([]*T, error)

	// Query executes a raw WHERE clause and maps the results to entities.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its key; a missing row is ErrStaleData.
	Delete(ctx context.Context, model *T) error

	// Save inserts entities in one transaction, all or nothing.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// Replace deletes the stored rows sharing keys with models and inserts
	// models, falling back to per-record writes on conflicts.
	Replace(ctx context.Context, model ...*T) (*repository.BulkReport, error)

	// SaveWithTx inserts entities within an existing transaction.
	SaveWithTx(ctx context.Context, tx *bun.Tx, model ...*T) error

	// DeleteWithTx removes an entity by key within a transaction.
	DeleteWithTx(ctx context.Context, tx *bun.Tx, key repository.Key) (int64, error)

	// Manager returns the repository manager behind the service.
	Manager() (*repository.Manager[T, PT], error)

	// SelectBuilder returns a Bun select query builder for the entity.
	SelectBuilder() *bun.SelectQuery
}

type baseServiceImpl[T any, PT repository.Record[T]] struct {
	db      bun.IDB
	opts    []repository.Option
	repo    repository.Repository[T]
	manager *repository.Manager[T, PT]
	err     error
	once    sync.Once
}

// NewService returns a default Service implementation backed by the global
// database connection. The global RepositoryConfig is applied before opts.
func NewService[T any, PT repository.Record[T]](opts ...repository.Option) Service[T, PT] {
	return &baseServiceImpl[T, PT]{opts: opts}
}

// NewServiceWithDB returns a Service over db, which may be a transaction.
func NewServiceWithDB[T any, PT repository.Record[T]](db bun.IDB, opts ...repository.Option) Service[T, PT] {
	return &baseServiceImpl[T, PT]{db: db, opts: opts}
}

func (s *baseServiceImpl[T, PT]) init() error {
	s.once.Do(func() {
		db := s.db
		opts := s.opts
		if db == nil {
			global := database.GetDB()
			if global == nil {
				s.err = ErrNotInitialized
				return
			}
			db = global
			if cfg := database.GetConfig(); cfg != nil {
				opts = append([]repository.Option{repository.WithConfig(cfg.RepositoryConfig)}, opts...)
			}
		}
		s.repo = repository.NewRepository[T, PT](db)
		s.manager, s.err = repository.NewManager[T, PT](db, opts...)
	})
	return s.err
}

func (s *baseServiceImpl[T, PT]) Manager() (*repository.Manager[T, PT], error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.manager, nil
}

func (s *baseServiceImpl[T, PT]) Get(ctx context.Context, key repository.Key) (*T, bool, error) {
	if err := s.init(); err != nil {
		return nil, false, err
	}
	return s.manager.GetByKey(ctx, key)
}

func (s *baseServiceImpl[T, PT]) All(ctx context.Context) ([]*T, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.manager.GetAll(ctx)
}

func (s *baseServiceImpl[T, PT]) List(ctx context.Context, filters ...types.Predicate) ([]*T, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.manager.GetAll(ctx, filters...)
}

func (s *baseServiceImpl[T, PT]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.repo.Query(ctx, query, args...)
}

func (s *baseServiceImpl[T, PT]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.repo.Page(ctx, page)
}

func (s *baseServiceImpl[T, PT]) Update(ctx context.Context, model *T) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.repo.Update(ctx, model)
}

func (s *baseServiceImpl[T, PT]) Delete(ctx context.Context, model *T) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.manager.Delete(ctx, model)
}

func (s *baseServiceImpl[T, PT]) Save(ctx context.Context, model ...*T) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.manager.AddAll(ctx, model)
}

func (s *baseServiceImpl[T, PT]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, fields, duplicateKeys, model...)
}

func (s *baseServiceImpl[T, PT]) Replace(ctx context.Context, model ...*T) (*repository.BulkReport, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.manager.BulkDeleteInsert(ctx, model)
}

func (s *baseServiceImpl[T, PT]) SaveWithTx(ctx context.Context, tx *bun.Tx, model ...*T) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.repo.CreateWithTx(ctx, tx, model...)
}

func (s *baseServiceImpl[T, PT]) DeleteWithTx(ctx context.Context, tx *bun.Tx, key repository.Key) (int64, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	return s.repo.DeleteWithTx(ctx, tx, key)
}

func (s *baseServiceImpl[T, PT]) SelectBuilder() *bun.SelectQuery {
	if err := s.init(); err != nil {
		return nil
	}
	return s.repo.NewSelect().Model((*T)(nil))
}
