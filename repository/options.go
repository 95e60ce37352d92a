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

	"github.com/tomoncle/rowswap/database"
	"github.com/tomoncle/rowswap/types"
)

type managerOptions struct {
	model          types.ExecutionModel
	maxConcurrency int
	keyChunkSize   int
	logger         database.Logger
	relationships  *bool
	foreignKeys    *database.ForeignKeyManager
	err            error
}

// Option configures a Manager.
type Option func(*managerOptions)

func defaultManagerOptions() *managerOptions {
	cfg := database.DefaultRepositoryConfig()
	return &managerOptions{
		model:          types.Sequential,
		maxConcurrency: cfg.MaxConcurrency,
		keyChunkSize:   cfg.KeyChunkSize,
	}
}

// WithExecutionModel selects sequential or concurrent fan-out.
func WithExecutionModel(model types.ExecutionModel) Option {
	return func(o *managerOptions) {
		if !model.IsValid() {
			o.err = fmt.Errorf("invalid execution model %d", model)
			return
		}
		o.model = model
	}
}

// WithMaxConcurrency bounds concurrent fan-out; n <= 0 removes the bound.
func WithMaxConcurrency(n int) Option {
	return func(o *managerOptions) { o.maxConcurrency = n }
}

// WithKeyChunkSize bounds the keys matched by one SELECT.
func WithKeyChunkSize(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.keyChunkSize = n
		}
	}
}

func WithLogger(logger database.Logger) Option {
	return func(o *managerOptions) { o.logger = logger }
}

// WithRelationships overrides relationship detection.
func WithRelationships(has bool) Option {
	return func(o *managerOptions) { o.relationships = &has }
}

// WithForeignKeys consults fkm's constraints during relationship detection.
func WithForeignKeys(fkm *database.ForeignKeyManager) Option {
	return func(o *managerOptions) { o.foreignKeys = fkm }
}

// WithConfig applies a RepositoryConfig, usually loaded by database.LoadConfig.
func WithConfig(cfg database.RepositoryConfig) Option {
	return func(o *managerOptions) {
		if err := database.ValidateRepositoryConfig(cfg); err != nil {
			o.err = err
			return
		}
		o.model, _ = types.ParseExecutionModel(cfg.ExecutionModel)
		o.maxConcurrency = cfg.MaxConcurrency
		if cfg.KeyChunkSize > 0 {
			o.keyChunkSize = cfg.KeyChunkSize
		}
	}
}
