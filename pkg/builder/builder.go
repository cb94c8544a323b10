// Package builder turns a manifest into a Windows Installer package,
// or into the WiX source describing it.
package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/ulid"
	"github.com/kolide/msikit/pkg/cabinet"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/filehash"
	"github.com/kolide/msikit/pkg/manifest"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/kolide/msikit/pkg/msidb/msitools"
	"github.com/kolide/msikit/pkg/wixmodel"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Result describes a finished build.
type Result struct {
	BuildID string

	// Output is the written msi or wxs file. It is empty when the WiX
	// source only went to a writer.
	Output string

	// Cabinet is the cabinet left next to the installer when it is not
	// embedded.
	Cabinet string

	Files      int
	Components int
}

// build is the state of one Build call.
type build struct {
	o    *options
	m    *manifest.Manifest
	tree *wixmodel.Tree
	res  *Result

	// created by this build, removed if it fails
	partial []string
}

// Build normalizes m, builds its element tree and writes either the
// installer or the WiX source. m is modified by normalization. On
// failure nothing the build wrote is left behind.
func Build(ctx context.Context, m *manifest.Manifest, opts ...Option) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "builder.Build")
	defer span.End()

	o := &options{
		xmlEncoding: "utf-8",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.backend == nil {
		o.backend = msitools.New()
	}

	buildID := ulid.New()
	ctx = ctxlog.With(ctx, "build_id", buildID)
	logger := ctxlog.FromContext(ctx)

	if err := manifest.Normalize(m); err != nil {
		return nil, err
	}

	output, err := outputPath(m, o)
	if err != nil {
		return nil, err
	}

	var treeOpts []wixmodel.Opt
	if o.generator != "" {
		treeOpts = append(treeOpts, wixmodel.WithGenerator(o.generator))
	}
	tree, err := wixmodel.New(ctx, m, treeOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "building installer model")
	}
	defer tree.Destroy()

	b := &build{
		o:    o,
		m:    m,
		tree: tree,
		res: &Result{
			BuildID:    buildID,
			Output:     output,
			Files:      len(tree.Files()),
			Components: len(tree.Components()),
		},
	}

	if o.xmlOnly {
		err = b.writeXML(ctx)
	} else {
		err = b.writePackage(ctx)
	}
	if err != nil {
		b.cleanup(ctx)
		return nil, err
	}

	level.Info(logger).Log(
		"msg", "build finished",
		"output", b.res.Output,
		"files", b.res.Files,
		"components", b.res.Components,
	)

	return b.res, nil
}

// outputPath resolves where the build writes. An explicit override
// wins over _OutputName and _OutputDir. WiX source going to a writer
// needs no file unless one is named.
func outputPath(m *manifest.Manifest, o *options) (string, error) {
	if o.xmlOnly && o.xmlWriter != nil && o.output == "" && m.OutputName == "" {
		return "", nil
	}

	dir, name := ".", ""
	switch {
	case o.output != "":
		dir, name = filepath.Split(o.output)
		if dir == "" {
			dir = "."
		}
	case m.OutputName != "":
		name = m.OutputName
		if m.OutputDir != "" {
			dir = m.OutputDir
		}
	}

	if name == "" {
		return "", errors.Wrap(msi.ErrInvalidModel, "output filename is not defined")
	}

	ext := ".msi"
	if o.xmlOnly {
		ext = ".wxs"
	}
	if !strings.HasSuffix(name, ext) {
		name += ext
	}

	return manifest.ExpandPath(filepath.Join(dir, name))
}

func (b *build) xmlOpts() []wixmodel.XMLOpt {
	return []wixmodel.XMLOpt{
		wixmodel.WithDialect(b.o.dialect),
		wixmodel.WithEncoding(b.o.xmlEncoding),
	}
}

func (b *build) writeXML(ctx context.Context) error {
	_, span := trace.StartSpan(ctx, "builder.writeXML")
	defer span.End()

	if b.res.Output == "" {
		return b.tree.WriteXML(b.o.xmlWriter, b.xmlOpts()...)
	}

	level.Info(ctxlog.FromContext(ctx)).Log("msg", "writing XML", "path", b.res.Output)

	b.claim(b.res.Output)
	f, err := os.Create(b.res.Output)
	if err != nil {
		return errors.Wrap(err, "creating XML output")
	}
	if err := b.tree.WriteXML(f, b.xmlOpts()...); err != nil {
		f.Close()
		return errors.Wrap(err, "writing XML")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing XML output")
	}

	if b.o.xmlWriter != nil {
		return b.tree.WriteXML(b.o.xmlWriter, b.xmlOpts()...)
	}
	return nil
}

func (b *build) writePackage(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "builder.writePackage")
	defer span.End()

	logger := ctxlog.FromContext(ctx)
	level.Info(logger).Log("msg", "writing MSI package", "path", b.res.Output)

	db := msi.NewDatabase()
	if err := b.tree.Populate(ctx, db); err != nil {
		return errors.Wrap(err, "populating tables")
	}
	db.PatchMedias()

	if err := msi.BuildSequences(db); err != nil {
		return errors.Wrap(err, "building sequences")
	}

	if err := b.addHashes(ctx, db); err != nil {
		return err
	}

	cabPath, err := b.writeCabinet(ctx, db)
	if err != nil {
		return err
	}

	if err := msi.AddValidationRows(db); err != nil {
		return errors.Wrap(err, "adding validation rows")
	}

	b.claim(b.res.Output)
	if err := b.commit(ctx, db); err != nil {
		return err
	}

	if bool(b.m.EmbedCab) {
		if err := os.Remove(cabPath); err != nil {
			level.Info(logger).Log("msg", "could not remove embedded cabinet", "path", cabPath, "err", err)
		}
	} else {
		b.res.Cabinet = cabPath
	}

	if b.o.xmlWriter != nil {
		return b.tree.WriteXML(b.o.xmlWriter, b.xmlOpts()...)
	}
	return nil
}

// addHashes adds one MsiFileHash row per packaged file.
func (b *build) addHashes(ctx context.Context, db *msi.Database) error {
	files := db.Files()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Source
	}

	var hashOpts []filehash.Opt
	if b.o.hashWorkers > 0 {
		hashOpts = append(hashOpts, filehash.WithWorkers(b.o.hashWorkers))
	}
	if b.o.hashCache != "" {
		cache, err := filehash.OpenCache(b.o.hashCache)
		if err != nil {
			return errors.Wrap(err, "opening hash cache")
		}
		defer cache.Close()
		hashOpts = append(hashOpts, filehash.WithCache(cache))
	}

	hashes, err := filehash.New(hashOpts...).HashFiles(ctx, paths)
	if err != nil {
		return errors.Wrap(err, "hashing files")
	}

	for i, h := range hashes {
		if _, err := db.Add(schema.MsiFileHash,
			schema.Str(files[i].ID), schema.Int(0),
			schema.Int(int(h[0])), schema.Int(int(h[1])), schema.Int(int(h[2])), schema.Int(int(h[3])),
		); err != nil {
			return errors.Wrapf(err, "hash of %s", files[i].Source)
		}
	}
	return nil
}

// writeCabinet packs every file next to the output, in File table
// order, and adds the _Streams row when the cabinet is embedded. An
// embedded cabinet is staged under a temporary name so a file already
// named like it is left alone.
func (b *build) writeCabinet(ctx context.Context, db *msi.Database) (string, error) {
	compression := cabinet.None
	if bool(b.m.Compressed) {
		compression = cabinet.MSZIP
	}

	cab := cabinet.New(compression)
	for _, f := range db.Files() {
		cab.AddFile(f.Source, f.ID)
	}

	dir := filepath.Dir(b.res.Output)
	cabPath := filepath.Join(dir, b.m.Cabinet)
	if bool(b.m.EmbedCab) {
		tmp, err := os.CreateTemp(dir, "msikit-*.cab")
		if err != nil {
			return "", errors.Wrap(err, "creating cabinet")
		}
		tmp.Close()
		cabPath = tmp.Name()
		b.partial = append(b.partial, cabPath)
	} else {
		b.claim(cabPath)
	}

	if err := cab.WriteFile(ctx, cabPath); err != nil {
		return "", errors.Wrap(err, "writing cabinet")
	}

	if bool(b.m.EmbedCab) {
		if _, err := db.Add(schema.Streams, schema.Str(b.m.Cabinet), schema.Stream(cabPath)); err != nil {
			return "", errors.Wrap(err, "embedding cabinet")
		}
	}
	return cabPath, nil
}

func (b *build) commit(ctx context.Context, db *msi.Database) error {
	out, err := b.o.backend.Create(ctx, b.res.Output)
	if err != nil {
		return errors.Wrap(err, "creating database")
	}
	defer out.Close()

	info, err := summaryInfo(b.m, b.tree.Package(), b.o.now())
	if err != nil {
		return err
	}
	if err := out.SetSummary(ctx, info); err != nil {
		return errors.Wrap(err, "writing summary information")
	}

	if err := db.Write(ctx, out); err != nil {
		return errors.Wrap(err, "writing tables")
	}

	if err := out.Commit(ctx); err != nil {
		return &msi.BackendError{Row: -1, Err: err}
	}
	return nil
}

// claim marks path for removal on failure, unless it existed before
// the build.
func (b *build) claim(path string) {
	if _, err := os.Lstat(path); err == nil {
		return
	}
	b.partial = append(b.partial, path)
}

func (b *build) cleanup(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, p := range b.partial {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			level.Info(logger).Log("msg", "could not remove partial output", "path", p, "err", err)
		}
	}
}

// summaryInfo fills the summary information stream from the manifest
// and the package element.
func summaryInfo(m *manifest.Manifest, pkg *wixmodel.Package, now time.Time) (msidb.SummaryInfo, error) {
	codepage, err := m.SummaryCodepage.Int()
	if err != nil {
		return msidb.SummaryInfo{}, errors.Wrapf(msi.ErrInvalidModel, "SummaryCodepage: %v", err)
	}
	pageCount, err := m.InstallerVersion.Int()
	if err != nil {
		return msidb.SummaryInfo{}, errors.Wrapf(msi.ErrInvalidModel, "InstallerVersion: %v", err)
	}

	arch := "Intel"
	if m.X64() {
		arch = "x64"
		if pageCount < 200 {
			pageCount = 200
		}
	}

	var words int
	if bool(m.Compressed) {
		words |= msi.SourceCompressed
	}
	if !m.PerMachine() {
		words |= msi.SourceNoPrivileges
	}

	return msidb.SummaryInfo{
		Codepage:       codepage,
		Title:          m.Name + " Installation Database",
		Subject:        m.Description,
		Author:         m.Manufacturer,
		LastAuthor:     m.Manufacturer,
		Keywords:       m.Keywords,
		Comments:       m.Comments,
		Template:       arch + ";" + string(m.Languages),
		RevisionNumber: "{" + pkg.ID + "}",
		Created:        now,
		LastSaved:      now,
		PageCount:      pageCount,
		WordCount:      words,
		AppName:        m.Name,
		Security:       2,
	}, nil
}
