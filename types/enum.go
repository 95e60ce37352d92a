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

import "strings"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// ExecutionModel selects how independent units of work inside one
// operation are scheduled.
type ExecutionModel int

const (
	// Sequential runs every unit to completion before starting the next.
	Sequential ExecutionModel = iota
	// Concurrent fans independent units out and joins them before the
	// operation continues.
	Concurrent
)

var _ BaseEnum = ExecutionModel(0)

var executionModelNames = map[ExecutionModel]string{
	Sequential: "sequential",
	Concurrent: "concurrent",
}

var executionModelDescs = map[ExecutionModel]string{
	Sequential: "units run one after another",
	Concurrent: "independent units fan out and are joined",
}

func (m ExecutionModel) IsValid() bool {
	_, ok := executionModelNames[m]
	return ok
}

func (m ExecutionModel) Number() int {
	if !m.IsValid() {
		return IllegalValue
	}
	return int(m)
}

func (m ExecutionModel) String() string { return m.Name() }

func (m ExecutionModel) Name() string {
	if name, ok := executionModelNames[m]; ok {
		return name
	}
	return IllegalName
}

func (m ExecutionModel) Desc() string {
	if desc, ok := executionModelDescs[m]; ok {
		return desc
	}
	return IllegalDesc
}

// ParseExecutionModel maps a configuration string onto an ExecutionModel.
// Empty input selects Sequential.
func ParseExecutionModel(s string) (ExecutionModel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "sync":
		return Sequential, true
	case "concurrent", "async", "parallel":
		return Concurrent, true
	default:
		return ExecutionModel(IllegalValue), false
	}
}
