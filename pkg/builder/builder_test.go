package builder

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kolide/msikit/pkg/filehash"
	"github.com/kolide/msikit/pkg/manifest"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/kolide/msikit/pkg/msidb/sqlite"
	"github.com/kolide/msikit/pkg/wixmodel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testManifest = `{
	"Name": "Widget",
	"UpgradeCode": "3ac4b4ff-10c4-4b8f-81ad-bac3238bf690",
	"Version": "1.2.3",
	"Manufacturer": "Acme Corp",
	"Description": "Widget installer"
}`

func makeSource(t *testing.T, files ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("contents of "+f), 0644))
	}
	return dir
}

func testManifestFor(t *testing.T, source string, edit func(*manifest.Manifest)) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Parse([]byte(testManifest))
	require.NoError(t, err)
	m.SourceDir = source
	if edit != nil {
		edit(m)
	}
	return m
}

func yes() *manifest.YesNo {
	v := manifest.YesNo(true)
	return &v
}

// openResult opens a database written by the sqlite backend.
func openResult(t *testing.T, path string) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func count(t *testing.T, conn *sql.DB, query string, args ...interface{}) int {
	t.Helper()

	var n int
	require.NoError(t, conn.QueryRow(query, args...).Scan(&n))
	return n
}

func summary(t *testing.T, conn *sql.DB) map[string]string {
	t.Helper()

	rows, err := conn.Query(`SELECT "Property", "Value" FROM "_SummaryInformation"`)
	require.NoError(t, err)
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		require.NoError(t, rows.Scan(&k, &v))
		props[k] = v
	}
	require.NoError(t, rows.Err())
	return props
}

func TestBuildSingleFile(t *testing.T) {
	t.Parallel()

	source := makeSource(t, "app.exe")
	out := t.TempDir()
	m := testManifestFor(t, source, nil)

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(out, "widget")),
		WithBackend(sqlite.New()),
		WithHashWorkers(2),
	)
	require.NoError(t, err)
	require.NotEmpty(t, res.BuildID)
	require.Equal(t, filepath.Join(out, "widget.msi"), res.Output)
	require.Equal(t, 1, res.Files)
	require.Equal(t, 1, res.Components)
	require.Empty(t, res.Cabinet)

	// embedded cabinets do not stay on disk
	_, err = os.Stat(filepath.Join(out, "installer.cab"))
	require.True(t, os.IsNotExist(err))

	conn := openResult(t, res.Output)

	var fileID, fileName string
	var fileSize, sequence int
	require.NoError(t, conn.QueryRow(`SELECT "File", "FileName", "FileSize", "Sequence" FROM "File"`).
		Scan(&fileID, &fileName, &fileSize, &sequence))
	require.Contains(t, fileName, "app.exe")
	require.Equal(t, len("contents of app.exe"), fileSize)
	require.Equal(t, 1, sequence)
	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "File"`))

	var keyPath string
	require.NoError(t, conn.QueryRow(`SELECT "KeyPath" FROM "Component"`).Scan(&keyPath))
	require.Equal(t, fileID, keyPath)
	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "Component"`))

	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "Feature"`))
	require.Equal(t, 1, count(t, conn,
		`SELECT COUNT(*) FROM "FeatureComponents" fc JOIN "Component" c ON fc."Component_" = c."Component"`))

	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "InstallExecuteSequence" WHERE "Action" = 'InstallFiles'`))
	require.Zero(t, count(t, conn, `SELECT COUNT(*) FROM "InstallExecuteSequence" WHERE "Action" = 'CreateShortcuts'`))

	var lastSequence int
	var cabinet string
	require.NoError(t, conn.QueryRow(`SELECT "LastSequence", "Cabinet" FROM "Media"`).Scan(&lastSequence, &cabinet))
	require.Equal(t, 1, lastSequence)
	require.Equal(t, "#installer.cab", cabinet)

	var data []byte
	require.NoError(t, conn.QueryRow(`SELECT "Data" FROM "_Streams" WHERE "Name" = 'installer.cab'`).Scan(&data))
	require.True(t, bytes.HasPrefix(data, []byte("MSCF")))

	want, err := filehash.Sum(filepath.Join(source, "app.exe"))
	require.NoError(t, err)
	var got filehash.Hash
	require.NoError(t, conn.QueryRow(
		`SELECT "HashPart1", "HashPart2", "HashPart3", "HashPart4" FROM "MsiFileHash" WHERE "File_" = ?`, fileID).
		Scan(&got[0], &got[1], &got[2], &got[3]))
	require.Equal(t, want, got)

	require.NotZero(t, count(t, conn, `SELECT COUNT(*) FROM "_Validation" WHERE "Table" = 'File'`))
}

func TestBuildArchCondition(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.CheckX64 = yes()
	})

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)

	conn := openResult(t, res.Output)
	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "LaunchCondition" WHERE "Condition" = 'VersionNT64'`))
}

func TestBuildOSCondition(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.OsCondition = "601"
	})

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)

	conn := openResult(t, res.Output)
	var message string
	require.NoError(t, conn.QueryRow(
		`SELECT "Description" FROM "LaunchCondition" WHERE "Condition" = 'Installed OR (VersionNT >= 601)'`).
		Scan(&message))
	require.Contains(t, message, "Windows 7, Windows Server 2008R2")
}

func TestBuildShortcuts(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "bin/widget.exe"), func(m *manifest.Manifest) {
		m.ProgramMenuFolder = "Widget"
		m.Shortcuts = []manifest.Shortcut{{Name: "Widget", Target: "bin/widget.exe"}}
	})

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)

	conn := openResult(t, res.Output)
	require.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM "Shortcut"`))

	var remove, create int
	require.NoError(t, conn.QueryRow(
		`SELECT "Sequence" FROM "InstallExecuteSequence" WHERE "Action" = 'RemoveShortcuts'`).Scan(&remove))
	require.NoError(t, conn.QueryRow(
		`SELECT "Sequence" FROM "InstallExecuteSequence" WHERE "Action" = 'CreateShortcuts'`).Scan(&create))
	require.Less(t, remove, create)

	// the per-user key path of the shortcut component is an integer
	var value string
	require.NoError(t, conn.QueryRow(`SELECT "Value" FROM "Registry" WHERE "Root" = 1`).Scan(&value))
	require.Equal(t, "#1", value)
}

func TestBuildSummaryInformation(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.Keywords = "widget,tools"
	})
	created := time.Date(2020, 5, 4, 3, 2, 1, 0, time.UTC)

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
		WithBackend(sqlite.New()),
		func(o *options) { o.now = func() time.Time { return created } },
	)
	require.NoError(t, err)

	props := summary(t, openResult(t, res.Output))
	require.Equal(t, "Widget Installation Database", props["Title"])
	require.Equal(t, "Widget installer", props["Subject"])
	require.Equal(t, "Acme Corp", props["Author"])
	require.Equal(t, "Acme Corp", props["LastAuthor"])
	require.Equal(t, "widget,tools", props["Keywords"])
	require.Equal(t, "Intel;1033", props["Template"])
	require.Equal(t, "2", props["WordCount"])
	require.Equal(t, "Widget", props["AppName"])
	require.Equal(t, "2", props["Security"])
	require.Equal(t, "2020-05-04T03:02:01Z", props["Created"])
	require.Equal(t, "2020-05-04T03:02:01Z", props["LastSaved"])
	require.True(t, strings.HasPrefix(props["RevisionNumber"], "{"))
	require.True(t, strings.HasSuffix(props["RevisionNumber"], "}"))
}

func TestBuildSummaryPerUserX64(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.Win64 = yes()
		m.InstallScope = "perUser"
		m.InstallerVersion = "100"
	})

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)

	props := summary(t, openResult(t, res.Output))
	require.Equal(t, "x64;1033", props["Template"])
	require.Equal(t, "200", props["PageCount"])
	require.Equal(t, "10", props["WordCount"])
}

func TestBuildExternalCabinet(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	m := testManifestFor(t, makeSource(t, "app.exe", "lib/a.dll"), func(m *manifest.Manifest) {
		m.EmbedCab = false
		m.Compressed = false
		m.Cabinet = "data.cab"
	})

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(out, "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "data.cab"), res.Cabinet)

	data, err := os.ReadFile(res.Cabinet)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("MSCF")))

	conn := openResult(t, res.Output)
	var cabinet string
	require.NoError(t, conn.QueryRow(`SELECT "Cabinet" FROM "Media"`).Scan(&cabinet))
	require.Equal(t, "data.cab", cabinet)
	require.Equal(t, "0", summary(t, conn)["WordCount"])
}

func TestBuildHashCache(t *testing.T) {
	t.Parallel()

	source := makeSource(t, "app.exe", "lib/a.dll")
	cache := filepath.Join(t.TempDir(), "hashes.db")

	var outputs []string
	for i := 0; i < 2; i++ {
		res, err := Build(context.TODO(), testManifestFor(t, source, nil),
			WithOutput(filepath.Join(t.TempDir(), "widget.msi")),
			WithBackend(sqlite.New()),
			WithHashCache(cache),
		)
		require.NoError(t, err)
		outputs = append(outputs, res.Output)
	}

	_, err := os.Stat(cache)
	require.NoError(t, err)

	hashes := func(path string) []filehash.Hash {
		rows, err := openResult(t, path).Query(
			`SELECT "HashPart1", "HashPart2", "HashPart3", "HashPart4" FROM "MsiFileHash" ORDER BY "File_"`)
		require.NoError(t, err)
		defer rows.Close()

		var found []filehash.Hash
		for rows.Next() {
			var h filehash.Hash
			require.NoError(t, rows.Scan(&h[0], &h[1], &h[2], &h[3]))
			found = append(found, h)
		}
		return found
	}
	require.Len(t, hashes(outputs[0]), 2)
	require.Equal(t, hashes(outputs[0]), hashes(outputs[1]))
}

func TestBuildXMLOnlyToWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	res, err := Build(context.TODO(), testManifestFor(t, makeSource(t, "app.exe"), nil),
		XMLOnly(),
		WithXMLWriter(&buf),
		WithDialect(wixmodel.DialectWiX),
		WithGenerator("builder test"),
	)
	require.NoError(t, err)
	require.Empty(t, res.Output)
	require.Contains(t, buf.String(), "<!-- Generated by builder test -->")
	require.Contains(t, buf.String(), `Name="app.exe"`)
}

func TestBuildXMLOnlyFile(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.OutputName = "widget-1.2.3"
		m.OutputDir = out
	})

	var buf bytes.Buffer
	res, err := Build(context.TODO(), m, XMLOnly(), WithXMLWriter(&buf), WithXMLEncoding("windows-1252"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "widget-1.2.3.wxs"), res.Output)

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte(`<?xml version="1.0" encoding="windows-1252"?>`)))
	require.Equal(t, data, buf.Bytes())
}

func TestBuildPackageAlsoWritesXML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	res, err := Build(context.TODO(), testManifestFor(t, makeSource(t, "app.exe"), nil),
		WithOutput(filepath.Join(t.TempDir(), "widget")),
		WithBackend(sqlite.New()),
		WithXMLWriter(&buf),
	)
	require.NoError(t, err)
	require.FileExists(t, res.Output)
	require.Contains(t, buf.String(), "<Wix")
}

func TestBuildInvalidManifest(t *testing.T) {
	t.Parallel()

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.Version = "one"
	})

	_, err := Build(context.TODO(), m, WithOutput(filepath.Join(t.TempDir(), "widget.msi")), WithBackend(sqlite.New()))
	require.Error(t, err)
	require.True(t, errors.Is(err, msi.ErrInvalidModel))
}

func TestBuildMissingOutputName(t *testing.T) {
	t.Parallel()

	_, err := Build(context.TODO(), testManifestFor(t, makeSource(t, "app.exe"), nil), WithBackend(sqlite.New()))
	require.Error(t, err)
	require.True(t, errors.Is(err, msi.ErrInvalidModel))
	require.Contains(t, err.Error(), "output filename is not defined")
}

type failingOpener struct {
	msidb.Opener
}

func (f failingOpener) Create(ctx context.Context, path string) (msidb.Database, error) {
	db, err := f.Opener.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	return failingCommit{db}, nil
}

type failingCommit struct {
	msidb.Database
}

func (failingCommit) Commit(context.Context) error {
	return errors.New("disk full")
}

func TestBuildFailureCleansUp(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.EmbedCab = false
	})

	_, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(out, "widget.msi")),
		WithBackend(failingOpener{sqlite.New()}),
	)
	require.Error(t, err)
	require.True(t, errors.Is(err, msi.ErrBackendFailure))
	require.Contains(t, err.Error(), "disk full")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBuildFailureKeepsExistingCabinet(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	cabPath := filepath.Join(out, "data.cab")
	msiPath := filepath.Join(out, "widget.msi")
	require.NoError(t, os.WriteFile(cabPath, []byte("older cabinet"), 0644))

	m := testManifestFor(t, makeSource(t, "app.exe"), func(m *manifest.Manifest) {
		m.EmbedCab = false
		m.Cabinet = "data.cab"
	})

	_, err := Build(context.TODO(), m,
		WithOutput(msiPath),
		WithBackend(failingOpener{sqlite.New()}),
	)
	require.Error(t, err)
	require.True(t, errors.Is(err, msi.ErrBackendFailure))

	require.FileExists(t, cabPath)
	require.NoFileExists(t, msiPath)
}

func TestBuildEmbeddedCabinetKeepsNamesake(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	cabPath := filepath.Join(out, "installer.cab")
	require.NoError(t, os.WriteFile(cabPath, []byte("unrelated file"), 0644))

	m := testManifestFor(t, makeSource(t, "app.exe"), nil)

	res, err := Build(context.TODO(), m,
		WithOutput(filepath.Join(out, "widget.msi")),
		WithBackend(sqlite.New()),
	)
	require.NoError(t, err)
	require.Empty(t, res.Cabinet)

	data, err := os.ReadFile(cabPath)
	require.NoError(t, err)
	require.Equal(t, "unrelated file", string(data))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	conn := openResult(t, res.Output)
	var stream []byte
	require.NoError(t, conn.QueryRow(`SELECT "Data" FROM "_Streams" WHERE "Name" = 'installer.cab'`).Scan(&stream))
	require.True(t, bytes.HasPrefix(stream, []byte("MSCF")))
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var tests = []struct {
		name    string
		m       manifest.Manifest
		opts    []Option
		want    string
		wantErr bool
	}{
		{
			name: "override wins",
			m:    manifest.Manifest{OutputName: "ignored", OutputDir: "/ignored"},
			opts: []Option{WithOutput(filepath.Join(dir, "custom"))},
			want: filepath.Join(dir, "custom.msi"),
		},
		{
			name: "override keeps extension",
			opts: []Option{WithOutput(filepath.Join(dir, "custom.msi"))},
			want: filepath.Join(dir, "custom.msi"),
		},
		{
			name: "manifest name and dir",
			m:    manifest.Manifest{OutputName: "widget", OutputDir: dir},
			want: filepath.Join(dir, "widget.msi"),
		},
		{
			name: "xml extension",
			m:    manifest.Manifest{OutputName: "widget", OutputDir: dir},
			opts: []Option{XMLOnly()},
			want: filepath.Join(dir, "widget.wxs"),
		},
		{
			name: "xml to writer only",
			m:    manifest.Manifest{OutputDir: dir},
			opts: []Option{XMLOnly(), WithXMLWriter(&bytes.Buffer{})},
			want: "",
		},
		{
			name: "xml to writer and named file",
			m:    manifest.Manifest{OutputName: "widget", OutputDir: dir},
			opts: []Option{XMLOnly(), WithXMLWriter(&bytes.Buffer{})},
			want: filepath.Join(dir, "widget.wxs"),
		},
		{
			name:    "no name",
			m:       manifest.Manifest{OutputDir: dir},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := &options{}
			for _, opt := range tt.opts {
				opt(o)
			}

			got, err := outputPath(&tt.m, o)
			if tt.wantErr {
				require.True(t, errors.Is(err, msi.ErrInvalidModel))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestOutputPathRelative(t *testing.T) {
	t.Parallel()

	got, err := outputPath(&manifest.Manifest{OutputName: "widget"}, &options{})
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(got))
	require.Equal(t, "widget.msi", filepath.Base(got))
}
