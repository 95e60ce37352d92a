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
	"reflect"
	"strings"

	"github.com/tomoncle/rowswap/types"
	"github.com/uptrace/bun"
)

// applyFilters AND-s every predicate onto q.
func applyFilters(q *bun.SelectQuery, filters []types.Predicate) (*bun.SelectQuery, error) {
	for _, f := range filters {
		cond, args, err := compilePredicate(f)
		if err != nil {
			return nil, err
		}
		if cond != "" {
			q = q.Where(cond, args...)
		}
	}
	return q, nil
}

// compilePredicate renders a predicate tree as a Bun WHERE fragment. Column
// names are passed as bun.Ident so they are quoted by the dialect.
func compilePredicate(p types.Predicate) (string, []any, error) {
	switch v := p.(type) {
	case nil:
		return "", nil, nil
	case types.Condition:
		return compileCondition(v)
	case types.And:
		return compileGroup(v.Children, " AND ", "1 = 1")
	case types.Or:
		return compileGroup(v.Children, " OR ", "1 = 0")
	case *types.QueryFilter:
		if v == nil || strings.TrimSpace(v.Schema) == "" {
			return "", nil, nil
		}
		return "(" + v.Schema + ")", v.Args, nil
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedPredicate, p)
	}
}

func compileGroup(children []types.Predicate, sep, empty string) (string, []any, error) {
	parts := make([]string, 0, len(children))
	var args []any
	for _, child := range children {
		cond, childArgs, err := compilePredicate(child)
		if err != nil {
			return "", nil, err
		}
		if cond == "" {
			continue
		}
		parts = append(parts, cond)
		args = append(args, childArgs...)
	}
	if len(parts) == 0 {
		return empty, nil, nil
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func compileCondition(c types.Condition) (string, []any, error) {
	if c.Field == "" {
		return "", nil, fmt.Errorf("%w: condition without field", ErrUnsupportedPredicate)
	}
	col := bun.Ident(c.Field)
	switch c.Op {
	case types.OpEq:
		if c.Value == nil {
			return "? IS NULL", []any{col}, nil
		}
		return "? = ?", []any{col, c.Value}, nil
	case types.OpNe:
		if c.Value == nil {
			return "? IS NOT NULL", []any{col}, nil
		}
		return "? <> ?", []any{col, c.Value}, nil
	case types.OpGt:
		return "? > ?", []any{col, c.Value}, nil
	case types.OpGe:
		return "? >= ?", []any{col, c.Value}, nil
	case types.OpLt:
		return "? < ?", []any{col, c.Value}, nil
	case types.OpLe:
		return "? <= ?", []any{col, c.Value}, nil
	case types.OpLike:
		return "? LIKE ?", []any{col, c.Value}, nil
	case types.OpIsNull:
		return "? IS NULL", []any{col}, nil
	case types.OpNotNull:
		return "? IS NOT NULL", []any{col}, nil
	case types.OpIn:
		rv := reflect.ValueOf(c.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return "", nil, fmt.Errorf("%w: IN on %s needs a slice, got %T", ErrUnsupportedPredicate, c.Field, c.Value)
		}
		if rv.Len() == 0 {
			return "1 = 0", nil, nil
		}
		return "? IN (?)", []any{col, bun.In(c.Value)}, nil
	}
	return "", nil, fmt.Errorf("%w: operator %q", ErrUnsupportedPredicate, c.Op)
}

// keyCondition matches exactly one key: "(a = ? AND b = ?)".
func keyCondition(columns []string, key Key) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, ErrEmptyPrimaryKey
	}
	if len(key) != len(columns) {
		return "", nil, fmt.Errorf("%w: got %d values for %d key columns", ErrInvalidKey, len(key), len(columns))
	}
	parts := make([]string, len(columns))
	args := make([]any, 0, 2*len(columns))
	for i, column := range columns {
		parts[i] = "? = ?"
		args = append(args, bun.Ident(column), key[i])
	}
	return "(" + strings.Join(parts, " AND ") + ")", args, nil
}

// keysCondition matches any of keys. A single key column uses IN, composite
// keys an OR of per-key AND groups, which every supported dialect accepts.
func keysCondition(columns []string, keys []Key) (string, []any, error) {
	if len(keys) == 0 {
		return "1 = 0", nil, nil
	}
	if len(columns) == 1 {
		values := make([]any, len(keys))
		for i, key := range keys {
			if len(key) != 1 {
				return "", nil, fmt.Errorf("%w: got %d values for 1 key column", ErrInvalidKey, len(key))
			}
			values[i] = key[0]
		}
		return "? IN (?)", []any{bun.Ident(columns[0]), bun.In(values)}, nil
	}
	parts := make([]string, len(keys))
	var args []any
	for i, key := range keys {
		cond, keyArgs, err := keyCondition(columns, key)
		if err != nil {
			return "", nil, err
		}
		parts[i] = cond
		args = append(args, keyArgs...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}
