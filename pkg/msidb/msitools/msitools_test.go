package msitools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/kolide/kit/env"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	argv0 string
	args  []string
}

// execRecorder stands in for msibuild. It records the command line and
// runs /bin/true instead.
func execRecorder(run *recordedRun) func(context.Context, string, ...string) *exec.Cmd {
	return func(ctx context.Context, argv0 string, args ...string) *exec.Cmd {
		run.argv0 = argv0
		run.args = args
		return exec.CommandContext(ctx, "/bin/true") //nolint:forbidigo // Fine to use exec.CommandContext in test
	}
}

func snapshot(t *testing.T, dir string) map[string]string {
	files := make(map[string]string)
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		rel, err := filepath.Rel(dir, path)
		require.NoError(t, err)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return files
}

func sampleDatabase(t *testing.T, dir string) *msi.Database {
	cab := filepath.Join(dir, "installer.cab")
	require.NoError(t, os.WriteFile(cab, []byte("MSCF"), 0644))
	icon := filepath.Join(dir, "app.ico")
	require.NoError(t, os.WriteFile(icon, []byte("ICON"), 0644))

	db := msi.NewDatabase()
	db.Codepage = 1252
	_, err := db.Add(schema.Property, schema.Str("ProductName"), schema.Str("Widget\tPro"))
	require.NoError(t, err)
	_, err = db.Add(schema.Icon, schema.Str("app.ico"), schema.Stream(icon))
	require.NoError(t, err)
	_, err = db.Add(schema.Streams, schema.Str("installer.cab"), schema.Stream(cab))
	require.NoError(t, err)
	_, err = db.Add(schema.Directory, schema.Str("TARGETDIR"), schema.Null(), schema.Str("SourceDir"))
	require.NoError(t, err)
	return db
}

func TestCommitStagesIDTAndRunsMsibuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "out.msi")

	var run recordedRun
	opener := New(KeepStaging())
	opener.execCC = execRecorder(&run)

	backend, err := opener.Create(ctx, out)
	require.NoError(t, err)
	staging := backend.(*database).staging
	defer os.RemoveAll(staging)

	require.NoError(t, backend.SetSummary(ctx, msidb.SummaryInfo{
		Codepage:       1252,
		Subject:        "A widget",
		Author:         "Acme",
		Template:       "Intel;1033",
		RevisionNumber: "{11111111-2222-3333-4444-555555555555}",
		Created:        time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	require.NoError(t, sampleDatabase(t, dir).Write(ctx, backend))
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, backend.Close())

	require.Equal(t, "msibuild", run.argv0)
	require.Equal(t, out, run.args[0])
	require.Equal(t, []string{"-s", "A widget", "Acme", "Intel;1033", "{11111111-2222-3333-4444-555555555555}"}, run.args[1:6])
	require.Equal(t, "-i", run.args[6])
	require.Equal(t, "_ForceCodepage.idt", run.args[7])
	require.Contains(t, run.args, "Property.idt")
	require.Contains(t, run.args, "_SummaryInformation.idt")
	require.NotContains(t, run.args, "_Streams.idt")

	n := len(run.args)
	require.Equal(t, []string{"-a", "installer.cab", filepath.Join("_Streams", "installer.cab")}, run.args[n-3:])

	files := snapshot(t, staging)

	require.Equal(t,
		"Property\tValue\r\ns72\tl0\r\nProperty\tProperty\r\nProductName\tWidget\x10Pro\r\n",
		files["Property.idt"])
	require.Equal(t,
		"Directory\tDirectory_Parent\tDefaultDir\r\ns72\tS72\tl255\r\nDirectory\tDirectory\r\nTARGETDIR\t\tSourceDir\r\n",
		files["Directory.idt"])
	require.Equal(t, "\r\n\r\n1252\t_ForceCodepage\r\n", files["_ForceCodepage.idt"])
	require.Contains(t, files["Icon.idt"], "app.ico\tapp.ico\r\n")
	require.Equal(t, "ICON", files["Icon/app.ico"])
	require.Equal(t, "MSCF", files["_Streams/installer.cab"])
	require.Contains(t, files["_SummaryInformation.idt"], "12\t2020/01/02 03:04:05\r\n")
	require.Contains(t, files["_SummaryInformation.idt"], "4\tAcme\r\n")

	// tables with no rows still get an archive, so the table exists
	require.Equal(t,
		"File_\tOptions\tHashPart1\tHashPart2\tHashPart3\tHashPart4\r\ns72\ti2\ti4\ti4\ti4\ti4\r\nMsiFileHash\tFile_\r\n",
		files["MsiFileHash.idt"])
}

func TestDockerArgs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	var run recordedRun
	opener := New(WithDocker("example/msitools"), WithMsibuild("/usr/bin/msibuild"))
	opener.execCC = execRecorder(&run)

	backend, err := opener.Create(ctx, filepath.Join(dir, "out.msi"))
	require.NoError(t, err)
	staging := backend.(*database).staging
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, backend.Close())

	require.Equal(t, "docker", run.argv0)
	joined := strings.Join(run.args, " ")
	require.Contains(t, joined, "-v "+staging+":"+staging)
	require.Contains(t, joined, "-v "+dir+":"+dir)
	require.Contains(t, joined, "example/msitools /usr/bin/msibuild "+filepath.Join(dir, "out.msi"))

	_, err = os.Stat(staging)
	require.True(t, os.IsNotExist(err), "staging dir should be removed on close")
}

func TestExecFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	opener := New()
	opener.execCC = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/false") //nolint:forbidigo // Fine to use exec.CommandContext in test
	}

	backend, err := opener.Create(ctx, filepath.Join(t.TempDir(), "out.msi"))
	require.NoError(t, err)
	defer backend.Close()

	require.Error(t, backend.Commit(ctx))
}

func TestEscape(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a\x10b\x11\x19c", escape("a\tb\r\nc"))
}

func TestMsibuildPackage(t *testing.T) {
	t.Parallel()

	if !env.Bool("CI_TEST_PACKAGING", false) {
		t.Skip("No msitools")
	}

	ctx := ctxlog.NewContext(context.Background(), log.NewLogfmtLogger(os.Stderr))
	dir := t.TempDir()
	out := filepath.Join(dir, "out.msi")

	db := sampleDatabase(t, dir)
	require.NoError(t, msi.BuildSequences(db))
	require.NoError(t, msi.AddValidationRows(db))

	backend, err := New().Create(ctx, out)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.SetSummary(ctx, msidb.SummaryInfo{
		Codepage:       1252,
		Subject:        "Widget",
		Author:         "Acme",
		Template:       "Intel;1033",
		RevisionNumber: "{11111111-2222-3333-4444-555555555555}",
		Created:        time.Now(),
		LastSaved:      time.Now(),
	}))
	require.NoError(t, db.Write(ctx, backend))
	require.NoError(t, backend.Commit(ctx))

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}
