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
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Key holds primary-key values in PrimaryKeyColumns order.
type Key []any

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// id is a comparable form of a Key, used for de-duplication. Numbers are
// compared by value, so Key{int(1)} and Key{int64(1)} share an id.
func (k Key) id() string {
	norm := make([]any, len(k))
	for i, v := range k {
		norm[i] = normalizeKeyValue(v)
	}
	return fmt.Sprintf("%#v", norm)
}

func normalizeKeyValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f)
		}
		return f
	case reflect.String:
		return rv.String()
	}
	return v
}

// HasPrimaryKey is implemented by record types. PrimaryKeyColumns must not
// depend on the receiver's field values: the manager calls it on a zero
// value.
type HasPrimaryKey interface {
	PrimaryKeyColumns() []string
	PrimaryKey() Key
}

// HasRelationships is optionally implemented by record types that know
// whether other tables depend on their rows.
type HasRelationships interface {
	HasRelationships() bool
}

// Record constrains PT to the pointer type of a record struct T.
type Record[T any] interface {
	*T
	HasPrimaryKey
}

// primaryKeyColumns returns the key columns of T, or ErrEmptyPrimaryKey.
func primaryKeyColumns[T any, PT Record[T]]() ([]string, error) {
	columns := PT(new(T)).PrimaryKeyColumns()
	if len(columns) == 0 {
		return nil, ErrEmptyPrimaryKey
	}
	return append([]string(nil), columns...), nil
}

// keyOf extracts and checks the key of one record.
func keyOf[T any, PT Record[T]](record *T, arity int) (Key, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidKey)
	}
	key := PT(record).PrimaryKey()
	if len(key) != arity {
		return nil, fmt.Errorf("%w: got %d values for %d key columns", ErrInvalidKey, len(key), arity)
	}
	return key, nil
}

// distinctKeys returns the keys of records in first-seen order.
func distinctKeys[T any, PT Record[T]](records []*T, arity int) ([]Key, error) {
	seen := make(map[string]struct{}, len(records))
	keys := make([]Key, 0, len(records))
	for _, record := range records {
		key, err := keyOf[T, PT](record, arity)
		if err != nil {
			return nil, err
		}
		id := key.id()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// chunkKeys splits keys into slices of at most size entries.
func chunkKeys(keys []Key, size int) [][]Key {
	if size <= 0 || len(keys) <= size {
		return [][]Key{keys}
	}
	chunks := make([][]Key, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
