// Package database provides connection management, configuration loading,
// driver error classification, table creation, foreign key bookkeeping,
// query hooks and logging built on top of Bun.
package database
