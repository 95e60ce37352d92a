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

package database

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	SerializationFailureErr
	DeadlockErr
)

// IsIntegrityViolation reports whether err is a uniqueness, foreign key,
// not-null or check constraint violation raised by the driver.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	ok, kind := IsSqlError(err)
	if !ok {
		return false
	}
	switch kind {
	case DuplicateKeyErr, ForeignKeyViolationErr, NotNullViolationErr, CheckConstraintViolationErr:
		return true
	}
	return false
}

// IsConcurrencyConflict reports whether err is an optimistic concurrency
// failure: a serialization failure or a deadlock victim.
func IsConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	ok, kind := IsSqlError(err)
	return ok && (kind == SerializationFailureErr || kind == DeadlockErr)
}

func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return true, mysqlErrorKind(mysqlErr.Number)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind, ok := sqlStateKind(string(pqErr.Code)); ok {
			return true, kind
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if kind, ok := sqlStateKind(pgErr.Code); ok {
			return true, kind
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if kind, ok := sqliteErrorKind(liteErr.Code()); ok {
			return true, kind
		}
	}
	return classifyMessage(strings.ToLower(err.Error()))
}

func mysqlErrorKind(number uint16) SQLError {
	switch number {
	case 1091:
		return NoIndexErr
	case 1054:
		return NoColumnErr
	case 1061:
		return ExistIndexErr
	case 1060:
		return ExistColumnErr
	case 1146:
		return NoTableErr
	case 1050:
		return ExistTableErr
	case 1062, 1586:
		return DuplicateKeyErr
	case 1048:
		return NotNullViolationErr
	case 1216, 1217, 1451, 1452:
		return ForeignKeyViolationErr
	case 3819:
		return CheckConstraintViolationErr
	case 1265, 1406:
		return DataTruncatedErr
	case 1213:
		return DeadlockErr
	case 1205:
		return SerializationFailureErr
	default:
		return UnknownErr
	}
}

func sqlStateKind(code string) (SQLError, bool) {
	switch code {
	case "23505", "21000":
		// 21000: an upsert touched the same row twice
		return DuplicateKeyErr, true
	case "23502":
		return NotNullViolationErr, true
	case "23503":
		return ForeignKeyViolationErr, true
	case "23514":
		return CheckConstraintViolationErr, true
	case "22001":
		return DataTruncatedErr, true
	case "42804":
		return InvalidTypeCastErr, true
	case "42703":
		return NoColumnErr, true
	case "42704":
		return NoIndexErr, true
	case "42P01":
		return NoTableErr, true
	case "42P07":
		return ExistTableErr, true
	case "40001":
		return SerializationFailureErr, true
	case "40P01":
		return DeadlockErr, true
	}
	return UnknownErr, false
}

func sqliteErrorKind(code int) (SQLError, bool) {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return DuplicateKeyErr, true
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return NotNullViolationErr, true
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ForeignKeyViolationErr, true
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return CheckConstraintViolationErr, true
	}
	return UnknownErr, false
}

// classifyMessage covers drivers whose error types are not linked in, such
// as the cgo sqlite driver picked by sqliteshim.
func classifyMessage(s string) (bool, SQLError) {
	switch {
	case strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column"):
		return true, NoColumnErr
	case strings.Contains(s, "sqlstate 42704") ||
		strings.Contains(s, "no such index") ||
		(strings.Contains(s, "does not exist") && strings.Contains(s, "index")):
		return true, NoIndexErr
	case strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table"):
		return true, NoTableErr
	case strings.Contains(s, "already exists") && strings.Contains(s, "index"):
		return true, ExistIndexErr
	case strings.Contains(s, "already exists") &&
		(strings.Contains(s, "table") || strings.Contains(s, "relation")):
		return true, ExistTableErr
	case strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") ||
		strings.Contains(s, "cannot affect row a second time") ||
		strings.Contains(s, "sqlstate 21000"):
		return true, DuplicateKeyErr
	case strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed"):
		return true, NotNullViolationErr
	case strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503"):
		return true, ForeignKeyViolationErr
	case strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514"):
		return true, CheckConstraintViolationErr
	case strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated"):
		return true, DataTruncatedErr
	case strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804"):
		return true, InvalidTypeCastErr
	case strings.Contains(s, "could not serialize access") ||
		strings.Contains(s, "sqlstate 40001"):
		return true, SerializationFailureErr
	case strings.Contains(s, "deadlock detected") ||
		strings.Contains(s, "sqlstate 40p01"):
		return true, DeadlockErr
	}
	return false, UnknownErr
}
