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

	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
)

// Querier is the read side shared by sessions and units of work.
type Querier[T any] interface {
	// Get returns (nil, false, nil) when no row has the key.
	Get(ctx context.Context, key Key) (*T, bool, error)
	Select(ctx context.Context, filters ...types.Predicate) ([]*T, error)
	SelectByKeys(ctx context.Context, keys []Key) ([]*T, error)
}

// UnitOfWork is one transaction. It must be finished with Commit or
// Rollback; Rollback after either is a no-op.
type UnitOfWork[T any] interface {
	Querier[T]
	Insert(ctx context.Context, records ...*T) error
	// Upsert inserts records, updating the non-key columns of rows whose
	// key already exists.
	Upsert(ctx context.Context, records ...*T) error
	// Delete removes the row with record's key and reports how many rows
	// went away.
	Delete(ctx context.Context, record *T) (int64, error)
	Commit() error
	Rollback() error
}

// Session reads directly and opens units of work. The manager never closes
// a session.
type Session[T any] interface {
	Querier[T]
	Begin(ctx context.Context) (UnitOfWork[T], error)
	// ConcurrentUnits reports whether units may be open on several
	// goroutines at once.
	ConcurrentUnits() bool
}

type bunSession[T any, PT Record[T]] struct {
	db   bun.IDB
	repo *baseRepositoryImpl[T]
}

// NewBunSession returns a Session over a *bun.DB or a bun.Tx. Over
// a transaction, units of work are savepoints.
func NewBunSession[T any, PT Record[T]](db bun.IDB, keyChunkSize int) Session[T] {
	return &bunSession[T, PT]{
		db:   db,
		repo: newBaseRepository[T](db, PT(new(T)).PrimaryKeyColumns(), keyChunkSize),
	}
}

func (s *bunSession[T, PT]) Get(ctx context.Context, key Key) (*T, bool, error) {
	return found[T](s.repo.GetOne(ctx, key))
}

func (s *bunSession[T, PT]) Select(ctx context.Context, filters ...types.Predicate) ([]*T, error) {
	return s.repo.List(ctx, filters...)
}

func (s *bunSession[T, PT]) SelectByKeys(ctx context.Context, keys []Key) ([]*T, error) {
	return s.repo.ListByKeys(ctx, keys)
}

func (s *bunSession[T, PT]) Begin(ctx context.Context) (UnitOfWork[T], error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &bunUnit[T, PT]{tx: tx, repo: s.repo}, nil
}

func (s *bunSession[T, PT]) ConcurrentUnits() bool {
	switch s.db.(type) {
	case bun.Tx, *bun.Tx:
		return false
	}
	return true
}

type bunUnit[T any, PT Record[T]] struct {
	tx   bun.Tx
	repo *baseRepositoryImpl[T]
}

func (u *bunUnit[T, PT]) Get(ctx context.Context, key Key) (*T, bool, error) {
	return found[T](u.repo.GetOneWithTx(ctx, &u.tx, key))
}

func (u *bunUnit[T, PT]) Select(ctx context.Context, filters ...types.Predicate) ([]*T, error) {
	return u.repo.ListWithTx(ctx, &u.tx, filters...)
}

func (u *bunUnit[T, PT]) SelectByKeys(ctx context.Context, keys []Key) ([]*T, error) {
	return u.repo.ListByKeysWithTx(ctx, &u.tx, keys)
}

func (u *bunUnit[T, PT]) Insert(ctx context.Context, records ...*T) error {
	return u.repo.CreateWithTx(ctx, &u.tx, records...)
}

func (u *bunUnit[T, PT]) Upsert(ctx context.Context, records ...*T) error {
	return u.repo.UpsertWithTx(ctx, &u.tx, nil, nil, records...)
}

func (u *bunUnit[T, PT]) Delete(ctx context.Context, record *T) (int64, error) {
	return u.repo.DeleteWithTx(ctx, &u.tx, PT(record).PrimaryKey())
}

func (u *bunUnit[T, PT]) Commit() error {
	return u.tx.Commit()
}

func (u *bunUnit[T, PT]) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func found[T any](entity *T, err error) (*T, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}
