// Package repository provides a generic repository manager built on Bun.
// Besides plain create, read and delete it implements a bulk delete-insert
// that replaces rows by primary key and, when the bulk statement set hits a
// stale-data or integrity conflict, falls back to re-clearing the previous
// rows and loading the records one unit of work at a time.
package repository
