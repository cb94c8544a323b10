package msi

import (
	"context"
	"errors"
	"testing"

	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/stretchr/testify/require"
)

type recordedInsert struct {
	table   string
	columns []string
	values  []schema.Value
}

type fakeBackend struct {
	created  []string
	sql      []string
	prepared int
	inserts  []recordedInsert
	failOn   string
}

func (f *fakeBackend) CreateTable(_ context.Context, t *schema.Table) error {
	f.created = append(f.created, t.Name)
	return nil
}

func (f *fakeBackend) Prepare(_ context.Context, t *schema.Table, columns []string) (msidb.Statement, error) {
	f.prepared++
	f.sql = append(f.sql, t.InsertSQL(columns))
	return &fakeStatement{f: f, table: t.Name, columns: columns}, nil
}

func (f *fakeBackend) SetSummary(context.Context, msidb.SummaryInfo) error { return nil }
func (f *fakeBackend) Commit(context.Context) error                        { return nil }
func (f *fakeBackend) Close() error                                        { return nil }

type fakeStatement struct {
	f       *fakeBackend
	table   string
	columns []string
}

func (s *fakeStatement) Exec(_ context.Context, values []schema.Value) error {
	if s.table == s.f.failOn {
		return errors.New("disk full")
	}
	s.f.inserts = append(s.f.inserts, recordedInsert{table: s.table, columns: s.columns, values: values})
	return nil
}

func (s *fakeStatement) Close() error { return nil }

func TestWriteOrderAndInserts(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	db.Codepage = 1252

	_, err := db.Add(schema.Directory, schema.Str("TARGETDIR"), schema.Null(), schema.Str("SourceDir"))
	require.NoError(t, err)
	_, err = db.Add(schema.Directory, schema.Str("INSTALLDIR"), schema.Str("TARGETDIR"), schema.Str("Café"))
	require.NoError(t, err)
	_, err = db.Add(schema.Property, schema.Str("Manufacturer"), schema.Str("Acme"))
	require.NoError(t, err)
	_, err = db.Add(schema.Property, schema.Str("ProductName"), schema.Str("Widget"))
	require.NoError(t, err)
	_, err = db.Add(schema.Streams, schema.Str("installer.cab"), schema.Stream("/tmp/installer.cab"))
	require.NoError(t, err)

	backend := &fakeBackend{}
	require.NoError(t, db.Write(context.Background(), backend))

	// every table but the predefined _Streams is created, in order
	var expected []string
	for _, name := range schema.WriteOrder {
		if name != schema.Streams {
			expected = append(expected, name)
		}
	}
	require.Equal(t, expected, backend.created)

	require.Len(t, backend.inserts, 5)

	// reversed directory rows, null parent left out
	require.Equal(t, schema.Directory, backend.inserts[0].table)
	require.Equal(t, "INSTALLDIR", backend.inserts[0].values[0].AsString())
	require.Equal(t, "Caf\xe9", backend.inserts[0].values[2].AsString())
	require.Equal(t, []string{"Directory", "DefaultDir"}, backend.inserts[1].columns)

	// two property rows share one prepared statement
	require.Equal(t, "Manufacturer", backend.inserts[2].values[0].AsString())
	require.Equal(t, "ProductName", backend.inserts[3].values[0].AsString())
	require.Equal(t, 4, backend.prepared)

	require.Equal(t, schema.StreamValue, backend.inserts[4].values[1].Kind())
	require.Contains(t, backend.sql, "INSERT INTO `Directory` (`Directory`, `DefaultDir`) VALUES (?, ?)")
}

func TestWriteBackendError(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	_, err := db.Add(schema.Property, schema.Str("A"), schema.Str("1"))
	require.NoError(t, err)

	err = db.Write(context.Background(), &fakeBackend{failOn: schema.Property})
	require.ErrorIs(t, err, ErrBackendFailure)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	require.Equal(t, schema.Property, be.Table)
	require.Equal(t, 0, be.Row)
}

func TestWriteUnencodable(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	db.Codepage = 1252
	_, err := db.Add(schema.Property, schema.Str("ProductName"), schema.Str("ウィジェット"))
	require.NoError(t, err)

	err = db.Write(context.Background(), &fakeBackend{})
	require.ErrorIs(t, err, ErrInvalidModel)
}

func TestWriteCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDatabase().Write(ctx, &fakeBackend{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidationRows(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	require.NoError(t, AddValidationRows(db))

	found := map[string][]schema.Value{}
	for _, r := range db.Table(schema.Validation).Rows() {
		found[r[0].AsString()+"."+r[1].AsString()] = r
		require.NotEqual(t, schema.Streams, r[0].AsString())
	}

	file := found["File.File"]
	require.Equal(t, "N", file[2].AsString())
	require.Equal(t, "Identifier", file[7].AsString())

	version := found["File.Version"]
	require.Equal(t, "Y", version[2].AsString())
	require.Equal(t, "Text", version[7].AsString())

	seq := found["File.Sequence"]
	require.True(t, seq[7].IsNull())

	require.Equal(t, "Binary", found["Icon.Data"][7].AsString())
	require.Equal(t, -32767, found["Media.DiskId"][3].AsInt())
}

func TestCodepageEncoder(t *testing.T) {
	t.Parallel()

	_, err := NewCodepageEncoder(1)
	require.ErrorIs(t, err, ErrInvalidModel)

	utf8, err := NewCodepageEncoder(65001)
	require.NoError(t, err)
	s, err := utf8.Encode("ウィジェット")
	require.NoError(t, err)
	require.Equal(t, "ウィジェット", s)

	sjis, err := NewCodepageEncoder(932)
	require.NoError(t, err)
	s, err = sjis.Encode("ウ")
	require.NoError(t, err)
	require.Equal(t, "\x83\x45", s)

	require.True(t, SupportedCodepage(1251))
	require.False(t, SupportedCodepage(437))
}
