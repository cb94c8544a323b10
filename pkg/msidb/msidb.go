// Package msidb is the contract between msikit and the engines able
// to produce an installer database file. Engines live in the sub
// packages.
package msidb

import (
	"context"
	"time"

	"github.com/kolide/msikit/pkg/msi/schema"
)

// Opener creates new databases.
type Opener interface {
	// Create starts a new database which is written to path on Commit.
	Create(ctx context.Context, path string) (Database, error)
}

// Database is a database being written. Nothing is guaranteed to be
// on disk until Commit returns.
type Database interface {
	// CreateTable creates a table. Predefined tables are never passed.
	CreateTable(ctx context.Context, t *schema.Table) error

	// Prepare returns an insert statement for the named columns of t.
	Prepare(ctx context.Context, t *schema.Table, columns []string) (Statement, error)

	SetSummary(ctx context.Context, info SummaryInfo) error
	Commit(ctx context.Context) error
	Close() error
}

// Statement is a prepared insert.
type Statement interface {
	// Exec inserts one row. values match the prepared columns one to
	// one. Strings have already been encoded to the database code page.
	Exec(ctx context.Context, values []schema.Value) error
	Close() error
}

// SummaryInfo is the summary information stream of a database.
//
// https://learn.microsoft.com/en-us/windows/win32/msi/summary-information-stream-property-set
type SummaryInfo struct {
	Codepage       int
	Title          string
	Subject        string
	Author         string
	LastAuthor     string
	Keywords       string
	Comments       string
	Template       string
	RevisionNumber string
	Created        time.Time
	LastSaved      time.Time
	PageCount      int
	WordCount      int
	AppName        string
	Security       int
}
