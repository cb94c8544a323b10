// Package msi holds the relational side of an installer: the tables
// of a database under construction, the standard action catalog and
// the sequence builder, and the writer that hands everything to a
// database engine.
package msi

import (
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/pkg/errors"
)

// FileEntry pairs a file on disk with its File table key.
type FileEntry struct {
	Source string
	ID     string
}

// Database is an installer database under construction. It is filled
// by a single traversal of the element tree and written once.
type Database struct {
	// Codepage strings are encoded in when written. 0 and 65001
	// leave them as UTF-8.
	Codepage int

	tables map[string]*Table
	files  []FileEntry
	medias []Row
}

// NewDatabase returns a Database with an empty table for every
// registered schema.
func NewDatabase() *Database {
	db := &Database{tables: make(map[string]*Table)}
	for _, name := range schema.Names() {
		s, _ := schema.Lookup(name)
		db.tables[name] = newTable(s)
	}
	return db
}

// Table returns the named table, or nil if no such table exists.
func (db *Database) Table(name string) *Table {
	return db.tables[name]
}

// Add appends a row to the named table.
func (db *Database) Add(table string, values ...schema.Value) (Row, error) {
	t, ok := db.tables[table]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidModel, "unknown table %s", table)
	}
	return t.Add(values...)
}

// AddFile records a file which is to be packed into the cabinet. Files
// are packed in the order they are added, which is also the order of
// their File.Sequence numbers.
func (db *Database) AddFile(source, id string) {
	db.files = append(db.files, FileEntry{Source: source, ID: id})
}

// Files returns every recorded file, in sequence order.
func (db *Database) Files() []FileEntry { return db.files }

// AddMedia registers a Media row for LastSequence patching.
func (db *Database) AddMedia(row Row) {
	db.medias = append(db.medias, row)
}

// PatchMedias sets LastSequence on every registered Media row to the
// number of files added.
func (db *Database) PatchMedias() {
	for _, row := range db.medias {
		row[1] = schema.Int(len(db.files))
	}
}
