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

package types

// Operator is a comparison applied by a Condition.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpGt      Operator = "gt"
	OpGe      Operator = "ge"
	OpLt      Operator = "lt"
	OpLe      Operator = "le"
	OpIn      Operator = "in"
	OpLike    Operator = "like"
	OpIsNull  Operator = "isnull"
	OpNotNull Operator = "notnull"
)

// Predicate is one node of a filter expression. The concrete variants are
// Condition, And, Or and QueryFilter.
type Predicate interface {
	predicate()
}

// Condition compares a single column with a value.
type Condition struct {
	Field string
	Op    Operator
	// Value is a slice for OpIn and ignored for OpIsNull/OpNotNull.
	Value any
}

// And holds when every child holds. An empty And matches everything.
type And struct {
	Children []Predicate
}

// Or holds when at least one child holds. An empty Or matches nothing.
type Or struct {
	Children []Predicate
}

// QueryFilter describes a raw WHERE clause schema and its argument values.
// It is the escape hatch for expressions the typed variants cannot express.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

func (Condition) predicate()    {}
func (And) predicate()          {}
func (Or) predicate()           {}
func (*QueryFilter) predicate() {}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

func Eq(field string, value any) Condition { return Condition{Field: field, Op: OpEq, Value: value} }

func Ne(field string, value any) Condition { return Condition{Field: field, Op: OpNe, Value: value} }

func Gt(field string, value any) Condition { return Condition{Field: field, Op: OpGt, Value: value} }

func Ge(field string, value any) Condition { return Condition{Field: field, Op: OpGe, Value: value} }

func Lt(field string, value any) Condition { return Condition{Field: field, Op: OpLt, Value: value} }

func Le(field string, value any) Condition { return Condition{Field: field, Op: OpLe, Value: value} }

func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

func Like(field string, pattern string) Condition {
	return Condition{Field: field, Op: OpLike, Value: pattern}
}

func IsNull(field string) Condition { return Condition{Field: field, Op: OpIsNull} }

func NotNull(field string) Condition { return Condition{Field: field, Op: OpNotNull} }

// AllOf combines predicates with AND.
func AllOf(children ...Predicate) And { return And{Children: children} }

// AnyOf combines predicates with OR.
func AnyOf(children ...Predicate) Or { return Or{Children: children} }
