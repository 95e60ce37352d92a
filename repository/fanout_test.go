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
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tomoncle/rowswap/types"
	"go.uber.org/multierr"
)

func TestExecutorRunsEveryTask(t *testing.T) {
	for _, model := range []types.ExecutionModel{types.Sequential, types.Concurrent} {
		t.Run(model.Name(), func(t *testing.T) {
			var ran, inFlight, peak atomic.Int32
			errOdd := errors.New("odd")
			err := executor{model: model, limit: 3}.run(10, func(i int) error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				ran.Add(1)
				if i%2 == 1 {
					return errOdd
				}
				return nil
			})
			assert.Equal(t, int32(10), ran.Load())
			assert.Len(t, multierr.Errors(err), 5)
			assert.ErrorIs(t, err, errOdd)
			assert.LessOrEqual(t, peak.Load(), int32(3))
		})
	}
}

func TestIsConflict(t *testing.T) {
	stale := &ConflictError{Op: "delete", Kind: ErrStaleData}
	integrity := &ConflictError{Op: "insert", Kind: ErrIntegrity, Err: errors.New("UNIQUE constraint failed")}

	assert.False(t, IsConflict(nil))
	assert.True(t, IsConflict(stale))
	assert.True(t, IsConflict(multierr.Combine(stale, integrity)))
	assert.False(t, IsConflict(multierr.Combine(stale, errConnectionLost)))
	assert.False(t, IsConflict(errConnectionLost))

	assert.ErrorIs(t, classify("insert", nil, errors.New("UNIQUE constraint failed: employees.name")), ErrIntegrity)
	assert.ErrorIs(t, classify("commit", nil, errors.New("ERROR: could not serialize access (SQLSTATE 40001)")), ErrStaleData)
	assert.Equal(t, stale, classify("again", nil, stale))
	assert.Contains(t, integrity.Error(), "insert: integrity constraint violation")
}
