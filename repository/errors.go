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
	"fmt"

	"github.com/tomoncle/rowswap/database"
	"go.uber.org/multierr"
)

var (
	// ErrStaleData means a row read earlier was changed or removed by
	// another writer before the unit of work committed.
	ErrStaleData = errors.New("stale data")
	// ErrIntegrity means a uniqueness, foreign key, not-null or check
	// constraint rejected a write.
	ErrIntegrity = errors.New("integrity constraint violation")
	// ErrInvalidKey means a key does not match the primary-key columns.
	ErrInvalidKey = errors.New("invalid primary key")
	// ErrEmptyPrimaryKey means a record type declares no key columns.
	ErrEmptyPrimaryKey = errors.New("record type declares no primary key columns")
	// ErrUnsupportedPredicate means a filter node cannot be compiled.
	ErrUnsupportedPredicate = errors.New("unsupported predicate")
)

// ConflictError is a persistence conflict: Kind is ErrStaleData or
// ErrIntegrity, Err the driver error if there is one.
type ConflictError struct {
	Op   string
	Kind error
	Key  Key
	Err  error
}

func (e *ConflictError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Key != nil {
		msg += " for key " + e.Key.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsConflict reports whether err consists only of stale-data and integrity
// conflicts. An aggregate that also carries any other error is not a
// conflict, so fatal errors are never absorbed.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, ErrStaleData) && !errors.Is(e, ErrIntegrity) {
			return false
		}
	}
	return true
}

// classify turns driver constraint and serialization failures into
// ConflictErrors and wraps everything else with op.
func classify(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	switch {
	case database.IsIntegrityViolation(err):
		return &ConflictError{Op: op, Kind: ErrIntegrity, Key: key, Err: err}
	case database.IsConcurrencyConflict(err):
		return &ConflictError{Op: op, Kind: ErrStaleData, Key: key, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
