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
	"sync"

	"github.com/tomoncle/rowswap/types"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// executor runs n independent tasks and joins them. Every task runs even
// when others fail, in both models, and all errors are returned together.
type executor struct {
	model types.ExecutionModel
	limit int
}

func (e executor) run(n int, task func(i int) error) error {
	if e.model != types.Concurrent || n < 2 {
		var errs error
		for i := 0; i < n; i++ {
			errs = multierr.Append(errs, task(i))
		}
		return errs
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := task(i); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
