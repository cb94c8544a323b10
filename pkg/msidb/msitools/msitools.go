// Package msitools produces MSI files with the msibuild tool from
// msitools (https://wiki.gnome.org/msitools). Tables are staged as IDT
// archive files and imported in one msibuild run at commit time.
package msitools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/pkg/errors"
)

type Opener struct {
	msibuildPath string // msibuild binary, looked up in PATH by default
	dockerImage  string // If set, msibuild runs inside this image
	keepStaging  bool

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

var _ msidb.Opener = (*Opener)(nil)

type Opt func(*Opener)

func WithMsibuild(path string) Opt {
	return func(o *Opener) {
		o.msibuildPath = path
	}
}

// WithDocker runs msibuild inside a container. The image needs
// msitools installed.
func WithDocker(image string) Opt {
	return func(o *Opener) {
		o.dockerImage = image
	}
}

// KeepStaging leaves the IDT staging directory behind, which helps
// when debugging msibuild import errors.
func KeepStaging() Opt {
	return func(o *Opener) {
		o.keepStaging = true
	}
}

func New(opts ...Opt) *Opener {
	o := &Opener{
		msibuildPath: "msibuild",
		execCC:       exec.CommandContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Opener) Create(ctx context.Context, path string) (msidb.Database, error) {
	out, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}

	staging, err := os.MkdirTemp("", "msikit-idt")
	if err != nil {
		return nil, errors.Wrap(err, "making staging dir")
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "staging msibuild import",
		"dir", staging,
		"out", out,
	)

	return &database{
		opener:  o,
		out:     out,
		staging: staging,
		tables:  make(map[string]*idtTable),
	}, nil
}

type database struct {
	opener  *Opener
	out     string
	staging string

	tables  map[string]*idtTable
	order   []string
	streams [][2]string // name, staged file
	summary *msidb.SummaryInfo
}

type idtTable struct {
	schema *schema.Table
	rows   [][]string
}

func (db *database) CreateTable(ctx context.Context, t *schema.Table) error {
	if _, ok := db.tables[t.Name]; ok {
		return errors.Errorf("table %s already exists", t.Name)
	}
	db.tables[t.Name] = &idtTable{schema: t}
	db.order = append(db.order, t.Name)
	return nil
}

func (db *database) Prepare(ctx context.Context, t *schema.Table, columns []string) (msidb.Statement, error) {
	if _, ok := db.tables[t.Name]; !ok && !t.Predefined {
		return nil, errors.Errorf("table %s was not created", t.Name)
	}

	idx := make([]int, len(columns))
	for i, name := range columns {
		found := false
		for j, c := range t.Columns {
			if c.Name == name {
				idx[i], found = j, true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("table %s has no column %s", t.Name, name)
		}
	}

	return &statement{db: db, table: t, idx: idx}, nil
}

func (db *database) SetSummary(ctx context.Context, info msidb.SummaryInfo) error {
	db.summary = &info
	return nil
}

func (db *database) Commit(ctx context.Context) error {
	var idts []string
	for _, name := range db.order {
		file := name + ".idt"
		if err := writeIDT(filepath.Join(db.staging, file), db.tables[name]); err != nil {
			return err
		}
		idts = append(idts, file)
	}

	if db.summary != nil {
		if err := os.WriteFile(filepath.Join(db.staging, "_SummaryInformation.idt"), summaryIDT(*db.summary), 0644); err != nil {
			return errors.Wrap(err, "writing summary information")
		}
		idts = append(idts, "_SummaryInformation.idt")

		if db.summary.Codepage != 0 {
			if err := os.WriteFile(filepath.Join(db.staging, "_ForceCodepage.idt"), forceCodepageIDT(db.summary.Codepage), 0644); err != nil {
				return errors.Wrap(err, "writing code page")
			}
			idts = append([]string{"_ForceCodepage.idt"}, idts...)
		}
	}

	if err := os.Remove(db.out); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing old %s", db.out)
	}

	if _, err := db.execOut(ctx, db.opener.msibuildPath, db.args(idts)...); err != nil {
		return errors.Wrap(err, "running msibuild")
	}
	return nil
}

// args builds the msibuild command line: summary, table imports, then
// streams.
func (db *database) args(idts []string) []string {
	args := []string{db.out}
	if db.summary != nil {
		args = append(args, "-s",
			db.summary.Subject,
			db.summary.Author,
			db.summary.Template,
			db.summary.RevisionNumber,
		)
	}
	if len(idts) > 0 {
		args = append(args, "-i")
		args = append(args, idts...)
	}
	for _, s := range db.streams {
		args = append(args, "-a", s[0], s[1])
	}
	return args
}

func (db *database) Close() error {
	if db.opener.keepStaging {
		return nil
	}
	return os.RemoveAll(db.staging)
}

func (db *database) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	outDir := filepath.Dir(db.out)
	dockerArgs := []string{
		"run",
		"--entrypoint", "",
		"-v", fmt.Sprintf("%s:%s", db.staging, db.staging),
		"-v", fmt.Sprintf("%s:%s", outDir, outDir),
		"-w", db.staging,
		db.opener.dockerImage,
		argv0,
	}
	dockerArgs = append(dockerArgs, args...)

	if db.opener.dockerImage != "" {
		argv0 = "docker"
		args = dockerArgs
	}

	cmd := db.opener.execCC(ctx, argv0, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	cmd.Dir = db.staging
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run command %s %v\nstdout=%s\nstderr=%s", argv0, args, stdout, stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}

type statement struct {
	db    *database
	table *schema.Table
	idx   []int
}

func (s *statement) Exec(ctx context.Context, values []schema.Value) error {
	if len(values) != len(s.idx) {
		return errors.Errorf("expected %d values, got %d", len(s.idx), len(values))
	}

	row := make([]string, len(s.table.Columns))
	var streams []int
	for i, v := range values {
		col := s.idx[i]
		switch v.Kind() {
		case schema.NullValue:
		case schema.IntValue:
			row[col] = fmt.Sprintf("%d", v.AsInt())
		case schema.StringValue:
			row[col] = escape(v.AsString())
		case schema.StreamValue:
			row[col] = v.AsString()
			streams = append(streams, col)
		default:
			return errors.Errorf("unknown value kind %d", v.Kind())
		}
	}

	if s.table.Name == schema.Streams {
		return s.addStream(row)
	}

	for _, col := range streams {
		staged, err := s.stageStream(row, row[col])
		if err != nil {
			return err
		}
		row[col] = staged
	}

	t := s.db.tables[s.table.Name]
	t.rows = append(t.rows, row)
	return nil
}

// addStream handles rows of the predefined _Streams table, which
// msibuild adds with -a instead of an IDT import.
func (s *statement) addStream(row []string) error {
	name, src := row[0], row[1]
	if name == "" || src == "" {
		return errors.New("stream rows need a name and data")
	}
	staged := filepath.Join(s.db.staging, schema.Streams, name)
	if err := copyFile(src, staged); err != nil {
		return err
	}
	s.db.streams = append(s.db.streams, [2]string{name, filepath.Join(schema.Streams, name)})
	return nil
}

// stageStream copies an OBJECT cell into the table's stream directory.
// IDT archives reference such cells by a file name relative to that
// directory, which by convention is the row key.
func (s *statement) stageStream(row []string, src string) (string, error) {
	var key []string
	for i, c := range s.table.Columns {
		if c.Key {
			key = append(key, row[i])
		}
	}
	name := strings.Join(key, ".")
	dst := filepath.Join(s.db.staging, s.table.Name, name)
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	return name, nil
}

func (s *statement) Close() error { return nil }

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening stream source %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s", src)
	}
	return out.Close()
}
