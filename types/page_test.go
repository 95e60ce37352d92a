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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequestDefaults(t *testing.T) {
	p := NewPageRequestWithOrders(0, 0, []string{"age DESC"})
	assert.Equal(t, 1, p.GetPage())
	assert.Equal(t, 10, p.GetPageSize())
	assert.Zero(t, p.GetOffset())
	assert.Equal(t, []string{"age DESC"}, p.GetOrders())
	assert.Empty(t, p.GetFilters())

	p = NewPageRequestWithFilter(3, 20, Eq("gender", "male"))
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, []Predicate{Eq("gender", "male")}, p.GetFilters())
}

func TestFilterHelpers(t *testing.T) {
	assert.Equal(t, Condition{Field: "name", Op: OpIn, Value: []any{"a", "b"}}, In("name", "a", "b"))
	assert.Equal(t, Condition{Field: "age", Op: OpIsNull}, IsNull("age"))

	tree := AnyOf(AllOf(Eq("a", 1), Le("b", 2)), NotNull("c"))
	assert.Len(t, tree.Children, 2)
	assert.IsType(t, And{}, tree.Children[0])

	qf := NewQueryFilter("age > ?", 30)
	var p Predicate = qf
	assert.Equal(t, "age > ?", p.(*QueryFilter).Schema)
}
