// Package sqlite writes installer tables into a SQLite database. The
// result is not an MSI file, but it holds exactly what would go into
// one, which makes it useful for inspecting and testing builds on
// hosts without an MSI engine.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// SummaryTable holds the summary information as property/value pairs.
const SummaryTable = "_SummaryInformation"

type Opener struct{}

var _ msidb.Opener = (*Opener)(nil)

func New() *Opener { return &Opener{} }

// Create replaces any file at path with a new, empty database. Every
// write happens inside a single transaction.
func (o *Opener) Create(ctx context.Context, path string) (msidb.Database, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing old %s", path)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "begin transaction")
	}

	level.Debug(ctxlog.FromContext(ctx)).Log("msg", "created sqlite database", "path", path)

	return &database{
		path:    path,
		conn:    conn,
		tx:      tx,
		created: make(map[string]bool),
	}, nil
}

type database struct {
	path      string
	conn      *sql.DB
	tx        *sql.Tx
	created   map[string]bool
	committed bool
}

func (db *database) CreateTable(ctx context.Context, t *schema.Table) error {
	if db.created[t.Name] {
		return errors.Errorf("table %s already exists", t.Name)
	}
	if _, err := db.tx.ExecContext(ctx, createSQL(t)); err != nil {
		return errors.Wrapf(err, "creating table %s", t.Name)
	}
	db.created[t.Name] = true
	return nil
}

// Prepare creates predefined tables on first use, since the writer
// never creates them explicitly.
func (db *database) Prepare(ctx context.Context, t *schema.Table, columns []string) (msidb.Statement, error) {
	if !db.created[t.Name] {
		if err := db.CreateTable(ctx, t); err != nil {
			return nil, err
		}
	}

	stmt, err := db.tx.PrepareContext(ctx, t.InsertSQL(columns))
	if err != nil {
		return nil, errors.Wrapf(err, "preparing insert into %s", t.Name)
	}
	return &statement{stmt: stmt}, nil
}

func (db *database) SetSummary(ctx context.Context, info msidb.SummaryInfo) error {
	create := fmt.Sprintf(`CREATE TABLE %s ("Property" TEXT NOT NULL PRIMARY KEY, "Value" TEXT)`, quote(SummaryTable))
	if _, err := db.tx.ExecContext(ctx, create); err != nil {
		return errors.Wrap(err, "creating summary table")
	}

	for _, p := range summaryProperties(info) {
		if _, err := db.tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s ("Property", "Value") VALUES (?, ?)`, quote(SummaryTable)),
			p[0], p[1],
		); err != nil {
			return errors.Wrapf(err, "writing summary property %s", p[0])
		}
	}
	return nil
}

func (db *database) Commit(ctx context.Context) error {
	if err := db.tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	db.committed = true
	level.Debug(ctxlog.FromContext(ctx)).Log("msg", "committed sqlite database", "path", db.path)
	return nil
}

func (db *database) Close() error {
	if !db.committed {
		db.tx.Rollback()
	}
	return db.conn.Close()
}

type statement struct {
	stmt *sql.Stmt
}

func (s *statement) Exec(ctx context.Context, values []schema.Value) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		switch v.Kind() {
		case schema.NullValue:
			args[i] = nil
		case schema.IntValue:
			args[i] = int64(v.AsInt())
		case schema.StringValue:
			args[i] = v.AsString()
		case schema.StreamValue:
			data, err := os.ReadFile(v.AsString())
			if err != nil {
				return errors.Wrap(err, "reading stream")
			}
			args[i] = data
		default:
			return errors.Errorf("unknown value kind %d", v.Kind())
		}
	}
	_, err := s.stmt.ExecContext(ctx, args...)
	return err
}

func (s *statement) Close() error { return s.stmt.Close() }

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func affinity(c schema.Column) string {
	switch c.Kind {
	case schema.Short, schema.Long:
		return "INTEGER"
	case schema.Object:
		return "BLOB"
	}
	return "TEXT"
}

func createSQL(t *schema.Table) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := quote(c.Name) + " " + affinity(c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if keys := t.Keys(); len(keys) > 0 {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = quote(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(t.Name), strings.Join(defs, ", "))
}

func summaryProperties(info msidb.SummaryInfo) [][2]string {
	ts := func(t time.Time) string { return t.UTC().Format(time.RFC3339) }
	return [][2]string{
		{"Codepage", strconv.Itoa(info.Codepage)},
		{"Title", info.Title},
		{"Subject", info.Subject},
		{"Author", info.Author},
		{"LastAuthor", info.LastAuthor},
		{"Keywords", info.Keywords},
		{"Comments", info.Comments},
		{"Template", info.Template},
		{"RevisionNumber", info.RevisionNumber},
		{"Created", ts(info.Created)},
		{"LastSaved", ts(info.LastSaved)},
		{"PageCount", strconv.Itoa(info.PageCount)},
		{"WordCount", strconv.Itoa(info.WordCount)},
		{"AppName", info.AppName},
		{"Security", strconv.Itoa(info.Security)},
	}
}
