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
	"sync"

	"github.com/google/uuid"
	"github.com/tomoncle/rowswap/database"
	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
)

// Tier names the step of the delete-insert ladder that produced the result.
type Tier int

const (
	// TierBulk means the whole batch was replaced in one unit of work.
	TierBulk Tier = iota
	// TierIsolated means records were loaded one unit of work each.
	TierIsolated
)

func (t Tier) String() string {
	switch t {
	case TierBulk:
		return "bulk"
	case TierIsolated:
		return "isolated"
	}
	return types.IllegalName
}

// BulkReport describes the outcome of BulkDeleteInsert.
type BulkReport struct {
	Tier      Tier
	Requested int
	Written   int
	// Dropped lists, in batch order, the keys of records whose own unit of
	// work hit a conflict and was rolled back.
	Dropped []Key
}

// Manager performs create, read, delete and delete-insert operations for
// one record type. It borrows its session and is safe for concurrent use
// when the session is.
type Manager[T any, PT Record[T]] struct {
	session       Session[T]
	columns       []string
	table         string
	relationships bool
	exec          executor
	logger        database.Logger
}

// NewManager returns a manager over a Bun database or transaction.
func NewManager[T any, PT Record[T]](db bun.IDB, opts ...Option) (*Manager[T, PT], error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	table := db.Dialect().Tables().Get(reflect.TypeFor[T]())
	m, err := newManager[T, PT](NewBunSession[T, PT](db, o.keyChunkSize), o, table.Name)
	if err != nil {
		return nil, err
	}
	if o.relationships == nil {
		m.relationships = hasRelationships[T, PT]() || len(table.Relations) > 0 ||
			o.foreignKeys.HasRelationships(table.Name)
	}
	return m, nil
}

// NewManagerWithSession returns a manager over any Session implementation.
// Relationships are taken from WithRelationships, the record's
// HasRelationships method or, failing both, the foreign-key manager.
func NewManagerWithSession[T any, PT Record[T]](session Session[T], opts ...Option) (*Manager[T, PT], error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	name := reflect.TypeFor[T]().Name()
	m, err := newManager[T, PT](session, o, name)
	if err != nil {
		return nil, err
	}
	if o.relationships == nil {
		m.relationships = hasRelationships[T, PT]() || o.foreignKeys.HasRelationships(name)
	}
	return m, nil
}

func resolveOptions(opts []Option) (*managerOptions, error) {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.logger == nil {
		o.logger = database.GetLogger()
	}
	return o, nil
}

func newManager[T any, PT Record[T]](session Session[T], o *managerOptions, table string) (*Manager[T, PT], error) {
	if session == nil {
		return nil, fmt.Errorf("repository manager for %s: nil session", table)
	}
	columns, err := primaryKeyColumns[T, PT]()
	if err != nil {
		return nil, fmt.Errorf("repository manager for %s: %w", table, err)
	}
	m := &Manager[T, PT]{
		session: session,
		columns: columns,
		table:   table,
		exec:    executor{model: o.model, limit: o.maxConcurrency},
		logger:  o.logger,
	}
	if o.relationships != nil {
		m.relationships = *o.relationships
	}
	return m, nil
}

func hasRelationships[T any, PT Record[T]]() bool {
	if r, ok := any(PT(new(T))).(HasRelationships); ok {
		return r.HasRelationships()
	}
	return false
}

// PrimaryKeys returns the ordered primary-key column names.
func (m *Manager[T, PT]) PrimaryKeys() []string { return slices.Clone(m.columns) }

// HasRelationships reports whether BulkDeleteInsert upserts in place
// instead of deleting and re-inserting.
func (m *Manager[T, PT]) HasRelationships() bool { return m.relationships }

// Session returns the session the manager reads and writes through.
func (m *Manager[T, PT]) Session() Session[T] { return m.session }

// GetByKey returns the record with key, or (nil, false, nil) if none.
func (m *Manager[T, PT]) GetByKey(ctx context.Context, key Key) (*T, bool, error) {
	if len(key) != len(m.columns) {
		return nil, false, fmt.Errorf("%w: got %d values for key %v", ErrInvalidKey, len(key), m.columns)
	}
	return m.session.Get(ctx, key)
}

// GetAll returns the records matching every filter.
func (m *Manager[T, PT]) GetAll(ctx context.Context, filters ...types.Predicate) ([]*T, error) {
	return m.session.Select(ctx, filters...)
}

// AddAll inserts batch in one unit of work. On failure nothing is written.
func (m *Manager[T, PT]) AddAll(ctx context.Context, batch []*T) error {
	if len(batch) == 0 {
		return nil
	}
	return m.inUnit(ctx, "add", nil, func(unit UnitOfWork[T]) error {
		return classify("insert "+m.table, nil, unit.Insert(ctx, batch...))
	})
}

// Delete removes record by key in one unit of work. A missing row is a
// stale-data conflict.
func (m *Manager[T, PT]) Delete(ctx context.Context, record *T) error {
	key, err := keyOf[T, PT](record, len(m.columns))
	if err != nil {
		return err
	}
	return m.inUnit(ctx, "delete", key, func(unit UnitOfWork[T]) error {
		return m.deleteRow(ctx, unit, record, true)
	})
}

// BulkDeleteInsert replaces, by key, the stored rows with batch.
//
// The batch is first applied in one unit of work: previous rows with the
// batch keys are deleted and the batch inserted, or upserted in place for
// record types with relationships. If that hits a conflict the unit is
// rolled back, the previous rows are deleted in a fresh unit, and every
// record is then loaded in a unit of its own; records whose unit conflicts
// are reported in BulkReport.Dropped. Errors other than conflicts are
// returned.
func (m *Manager[T, PT]) BulkDeleteInsert(ctx context.Context, batch []*T) (*BulkReport, error) {
	report := &BulkReport{Tier: TierBulk, Requested: len(batch)}
	if len(batch) == 0 {
		return report, nil
	}
	keys, err := distinctKeys[T, PT](batch, len(m.columns))
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	log := func(level func(string, ...interface{}), msg string, kv ...interface{}) {
		level(msg, append([]interface{}{"op", opID, "table", m.table}, kv...)...)
	}
	log(m.logger.Debug, "Bulk delete-insert", "records", len(batch), "keys", len(keys), "relationships", m.relationships)

	err = m.replaceBatch(ctx, keys, batch)
	if err == nil {
		report.Written = len(batch)
		return report, nil
	}
	if !IsConflict(err) {
		return nil, err
	}
	log(m.logger.Warn, "Bulk delete-insert conflicted, loading records one by one", "error", err)

	report.Tier = TierIsolated
	if !m.relationships {
		if err := m.clearPrevious(ctx, keys); err != nil {
			if !IsConflict(err) {
				return report, err
			}
			log(m.logger.Warn, "Clearing previous rows conflicted", "error", err)
		}
	}

	written, dropped, err := m.loadEach(ctx, batch)
	report.Written = written
	report.Dropped = dropped
	if err != nil {
		return report, err
	}
	if len(dropped) > 0 {
		log(m.logger.Warn, "Records dropped after conflicts", "dropped", len(dropped), "written", written)
	} else {
		log(m.logger.Info, "Records loaded one by one", "written", written)
	}
	return report, nil
}

// replaceBatch is the single-unit attempt of BulkDeleteInsert.
func (m *Manager[T, PT]) replaceBatch(ctx context.Context, keys []Key, batch []*T) error {
	return m.inUnit(ctx, "replace", nil, func(unit UnitOfWork[T]) error {
		if m.relationships {
			return classify("upsert "+m.table, nil, unit.Upsert(ctx, batch...))
		}
		previous, err := unit.SelectByKeys(ctx, keys)
		if err != nil {
			return classify("select "+m.table, nil, err)
		}
		if err := m.deleteRows(ctx, unit, previous, true); err != nil {
			return err
		}
		return classify("insert "+m.table, nil, unit.Insert(ctx, batch...))
	})
}

// clearPrevious deletes whatever rows still carry the batch keys.
func (m *Manager[T, PT]) clearPrevious(ctx context.Context, keys []Key) error {
	return m.inUnit(ctx, "clear", nil, func(unit UnitOfWork[T]) error {
		previous, err := unit.SelectByKeys(ctx, keys)
		if err != nil {
			return classify("select "+m.table, nil, err)
		}
		return m.deleteRows(ctx, unit, previous, false)
	})
}

// loadEach writes every record in its own unit of work. Conflicting units
// are rolled back and their keys returned in batch order.
func (m *Manager[T, PT]) loadEach(ctx context.Context, batch []*T) (int, []Key, error) {
	var (
		mu      sync.Mutex
		written int
		dropped []int
	)
	exec := m.exec
	if !m.session.ConcurrentUnits() {
		exec.model = types.Sequential
	}
	errs := exec.run(len(batch), func(i int) error {
		record := batch[i]
		key := PT(record).PrimaryKey()
		err := m.inUnit(ctx, "load", key, func(unit UnitOfWork[T]) error {
			if m.relationships {
				return classify("upsert "+m.table, key, unit.Upsert(ctx, record))
			}
			return classify("insert "+m.table, key, unit.Insert(ctx, record))
		})
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			written++
		case IsConflict(err):
			dropped = append(dropped, i)
		default:
			return err
		}
		return nil
	})

	slices.Sort(dropped)
	keys := make([]Key, len(dropped))
	for i, idx := range dropped {
		keys[i] = PT(batch[idx]).PrimaryKey()
	}
	return written, keys, errs
}

func (m *Manager[T, PT]) deleteRows(ctx context.Context, unit UnitOfWork[T], rows []*T, strict bool) error {
	return m.exec.run(len(rows), func(i int) error {
		return m.deleteRow(ctx, unit, rows[i], strict)
	})
}

// deleteRow deletes one row; when strict, a row that is already gone is a
// stale-data conflict.
func (m *Manager[T, PT]) deleteRow(ctx context.Context, unit UnitOfWork[T], record *T, strict bool) error {
	key := PT(record).PrimaryKey()
	n, err := unit.Delete(ctx, record)
	if err != nil {
		return classify("delete "+m.table, key, err)
	}
	if strict && n == 0 {
		return &ConflictError{Op: "delete " + m.table, Kind: ErrStaleData, Key: key}
	}
	return nil
}

// inUnit runs fn in a new unit of work and commits it, rolling back on any
// error.
func (m *Manager[T, PT]) inUnit(ctx context.Context, op string, key Key, fn func(UnitOfWork[T]) error) error {
	unit, err := m.session.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", op, m.table, err)
	}
	if err := fn(unit); err != nil {
		m.rollback(unit, op)
		return err
	}
	if err := unit.Commit(); err != nil {
		m.rollback(unit, op)
		return classify(op+" "+m.table+": commit", key, err)
	}
	return nil
}

func (m *Manager[T, PT]) rollback(unit UnitOfWork[T], op string) {
	if err := unit.Rollback(); err != nil {
		m.logger.Warn("Rollback failed", "table", m.table, "op", op, "error", err)
	}
}
