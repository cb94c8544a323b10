package msi

import (
	"context"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Write creates every table in schema.WriteOrder and inserts its rows
// into out. It does not commit.
func (db *Database) Write(ctx context.Context, out msidb.Database) error {
	ctx, span := trace.StartSpan(ctx, "msi.Write")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	enc, err := NewCodepageEncoder(db.Codepage)
	if err != nil {
		return err
	}

	for _, name := range schema.WriteOrder {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := db.Table(name)
		if t == nil {
			return errors.Errorf("table %s is not registered", name)
		}

		if !t.Schema.Predefined {
			if err := out.CreateTable(ctx, t.Schema); err != nil {
				return &BackendError{Table: name, Row: -1, Err: err}
			}
		}

		if err := writeRows(ctx, out, t, enc); err != nil {
			return err
		}

		level.Debug(logger).Log(
			"msg", "wrote table",
			"table", name,
			"rows", t.Len(),
		)
	}

	return nil
}

func writeRows(ctx context.Context, out msidb.Database, t *Table, enc *CodepageEncoder) error {
	stmts := make(map[string]msidb.Statement)
	defer func() {
		for _, s := range stmts {
			s.Close()
		}
	}()

	for i, row := range t.Rows() {
		var (
			columns []string
			values  []schema.Value
		)
		for c, v := range row {
			switch v.Kind() {
			case schema.NullValue:
				continue
			case schema.IntValue, schema.StreamValue:
			case schema.StringValue:
				s, err := enc.Encode(v.AsString())
				if err != nil {
					return errors.Wrapf(err, "table %s row %d column %s", t.Name(), i, t.Schema.Columns[c].Name)
				}
				v = schema.Str(s)
			default:
				return errors.Wrapf(ErrUnsupportedFieldType, "table %s row %d column %s: %s",
					t.Name(), i, t.Schema.Columns[c].Name, v)
			}
			columns = append(columns, t.Schema.Columns[c].Name)
			values = append(values, v)
		}

		key := strings.Join(columns, "\x00")
		stmt, ok := stmts[key]
		if !ok {
			var err error
			stmt, err = out.Prepare(ctx, t.Schema, columns)
			if err != nil {
				return &BackendError{Table: t.Name(), Row: i, Err: err}
			}
			stmts[key] = stmt
		}

		if err := stmt.Exec(ctx, values); err != nil {
			return &BackendError{Table: t.Name(), Row: i, Err: err}
		}
	}
	return nil
}
