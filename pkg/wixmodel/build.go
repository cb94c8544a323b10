// Package wixmodel builds the element tree of an installer from a
// manifest. The tree renders to WiX XML and contributes the rows of
// an MSI database.
package wixmodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/version"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/manifest"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/kolide/msikit/pkg/msi/ids"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const XMLNS = "http://schemas.microsoft.com/wix/2006/wi"

// Tree is a built installer model.
type Tree struct {
	root       *Wix
	product    *Product
	pkg        *Package
	media      *Media
	components []*Component
	files      []*File
}

func (t *Tree) Root() *Wix                { return t.root }
func (t *Tree) Product() *Product         { return t.product }
func (t *Tree) Package() *Package         { return t.pkg }
func (t *Tree) Media() *Media             { return t.media }
func (t *Tree) Components() []*Component { return t.components }

// Files returns the scanned files in tree order.
func (t *Tree) Files() []*File { return t.files }

type options struct {
	generator string
}

type Opt func(*options)

// WithGenerator sets the "Generated by" comment on the root element.
func WithGenerator(name string) Opt {
	return func(o *options) {
		o.generator = name
	}
}

// buildContext carries the state of one tree construction.
type buildContext struct {
	ctx        context.Context
	m          *manifest.Manifest
	components []*Component
	files      []*File
	skipped    int
}

// New builds the tree for a normalized manifest. The source tree is
// scanned once, in directory order.
func New(ctx context.Context, m *manifest.Manifest, opts ...Opt) (*Tree, error) {
	ctx, span := trace.StartSpan(ctx, "wixmodel.New")
	defer span.End()

	o := &options{
		generator: fmt.Sprintf("msikit %s", version.Version().Version),
	}
	for _, opt := range opts {
		opt(o)
	}

	bc := &buildContext{ctx: ctx, m: m}

	root := &Wix{Xmlns: XMLNS}
	root.Comment = "Generated by " + o.generator

	product, pkg, media, err := bc.product()
	if err != nil {
		return nil, err
	}
	appendChild(root, product)

	t := &Tree{
		root:    root,
		product: product,
		pkg:     pkg,
		media:   media,
	}

	bc.conditions(product)
	bc.icons(product)

	targetDir, err := bc.targetDir()
	if err != nil {
		return nil, err
	}
	appendChild(product, targetDir)

	if err := bc.services(); err != nil {
		return nil, err
	}
	if err := bc.shortcuts(product, targetDir); err != nil {
		return nil, err
	}
	bc.environment(product)

	if len(bc.components) > 0 {
		feature := &Feature{
			Node:  Node{ID: ids.NewID("i"), blank: true},
			Title: m.Name,
			Level: 1,
		}
		for _, c := range bc.components {
			appendChild(feature, &ComponentRef{Node: Node{ID: c.ID}})
		}
		appendChild(product, feature)
	}

	t.components = bc.components
	t.files = bc.files

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "built installer model",
		"files", len(bc.files),
		"components", len(bc.components),
		"skipped", bc.skipped,
	)

	return t, nil
}

func (bc *buildContext) product() (*Product, *Package, *Media, error) {
	m := bc.m

	product := &Product{
		Node:         Node{ID: ids.NewGUID()},
		Name:         m.Name,
		UpgradeCode:  m.UpgradeCode,
		Language:     m.Language.String(),
		Codepage:     m.Codepage.String(),
		Version:      m.Version,
		Manufacturer: m.Manufacturer,
	}

	platform := "x86"
	if m.X64() {
		platform = "x64"
	}
	pkg := &Package{
		Node:             Node{ID: ids.NewGUID()},
		Keywords:         m.Keywords,
		Description:      m.Description,
		Comments:         m.Comments,
		InstallerVersion: m.InstallerVersion.String(),
		Languages:        m.Languages.String(),
		Compressed:       bool(m.Compressed),
		Manufacturer:     m.Manufacturer,
		SummaryCodepage:  m.SummaryCodepage.String(),
		Platform:         platform,
		InstallScope:     m.InstallScope,
	}
	appendChild(product, pkg)

	if strings.ContainsAny(m.Cabinet, `/\`) {
		return nil, nil, nil, errors.Wrapf(msi.ErrInvalidModel, "cabinet name %q must not contain a path", m.Cabinet)
	}
	media := &Media{
		Node:       Node{ID: "1", blank: true},
		Cabinet:    m.Cabinet,
		EmbedCab:   bool(m.EmbedCab),
		DiskPrompt: m.DiskPrompt,
	}
	appendChild(product, media)

	appendChild(product, &Property{
		Node:  Node{ID: "DiskPrompt"},
		Value: fmt.Sprintf("%s %s Installation", m.Name, m.Version),
	})

	return product, pkg, media, nil
}

var osConditions = map[string]string{
	"501":  "Windows XP, Windows Server 2003",
	"502":  "Windows Server 2003",
	"600":  "Windows Vista, Windows Server 2008",
	"601":  "Windows 7, Windows Server 2008R2",
	"602":  "Windows 8, Windows Server 2012",
	"603":  "Windows 8.1, Windows Server 2012 R2",
	"1000": "Windows 10, Windows Server 2016",
}

// OSCondition returns the launch condition requiring at least the
// Windows version token names. Unknown tokens mean 501.
func OSCondition(token string) *Condition {
	if _, ok := osConditions[token]; !ok {
		token = "501"
	}
	return &Condition{
		Node: Node{
			Comment: "Launch Condition to check suitable system version",
			blank:   true,
		},
		Message:    fmt.Sprintf("This application is only supported on %s or higher.", osConditions[token]),
		Expression: fmt.Sprintf("Installed OR (VersionNT >= %s)", token),
	}
}

// ArchCondition refuses to install on 32-bit Windows.
func ArchCondition() *Condition {
	return &Condition{
		Node: Node{
			Comment: "Launch Condition to check that x64 installer is used on x64 systems",
			blank:   true,
		},
		Message:    "64-bit operating system was not detected, please use the 32-bit installer.",
		Expression: "VersionNT64",
	}
}

func (bc *buildContext) conditions(product *Product) {
	m := bc.m
	if m.OsCondition != "" {
		appendChild(product, OSCondition(m.OsCondition.String()))
	}
	if m.CheckArch() {
		appendChild(product, ArchCondition())
	}
	for _, c := range m.Conditions {
		appendChild(product, &Condition{
			Node:       Node{blank: true},
			Message:    c.Message,
			Expression: c.Expression,
			Level:      c.Level.String(),
		})
	}
}

func newIcon(source string) *Icon {
	return &Icon{
		Node:       Node{ID: filepath.Base(source), blank: true},
		SourceFile: source,
	}
}

func (bc *buildContext) icons(product *Product) {
	m := bc.m
	if m.AppIcon != "" {
		icon := newIcon(m.AppIcon)
		appendChild(product, icon)
		appendChild(product, &Property{Node: Node{ID: "ARPPRODUCTICON"}, Value: icon.ID})
	}
	for _, source := range m.Icons {
		appendChild(product, newIcon(source))
	}
}

// targetDir builds TARGETDIR, the program files folder and the
// install dir holding the scanned source tree.
func (bc *buildContext) targetDir() (*Directory, error) {
	m := bc.m

	target := &Directory{
		Node:     Node{ID: "TARGETDIR", Comment: "Installed file tree", blank: true},
		Name:     "SourceDir",
		Verbatim: true,
	}

	pfID := "ProgramFilesFolder"
	if m.X64() {
		pfID = "ProgramFiles64Folder"
	}
	pf := &Directory{Node: Node{ID: pfID}, Name: "PFiles", Verbatim: true}
	appendChild(target, pf)

	install := &Directory{Node: Node{ID: "INSTALLDIR"}, Name: m.InstallDir, Verbatim: true}
	appendChild(pf, install)

	info, err := os.Stat(m.SourceDir)
	if err != nil {
		return nil, errors.Wrap(err, "source dir")
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(msi.ErrInvalidModel, "source dir %s is not a directory", m.SourceDir)
	}

	if err := bc.scan(install, m.SourceDir, ""); err != nil {
		return nil, err
	}
	return target, nil
}

// scan adds the entries of dir below parent. Subdirectories become
// Directory elements, files become a File wrapped in its own
// Component.
func (bc *buildContext) scan(parent Element, dir, rel string) error {
	if err := bc.ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "scanning source tree")
	}

	for _, entry := range entries {
		name := entry.Name()
		if bool(bc.m.SkipHidden) && strings.HasPrefix(name, ".") {
			bc.skipped++
			continue
		}

		itemPath := filepath.Join(dir, name)
		itemRel := name
		if rel != "" {
			itemRel = rel + "/" + name
		}

		// Stat follows symlinks.
		info, err := os.Stat(itemPath)
		if err != nil {
			return errors.Wrap(err, "scanning source tree")
		}

		switch {
		case info.IsDir():
			sub := &Directory{Node: Node{ID: ids.NewID("dir")}, Name: name}
			appendChild(parent, sub)
			if err := bc.scan(sub, itemPath, itemRel); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			comp := bc.newComponent()
			file := &File{
				Node:    Node{ID: ids.NewID("fil")},
				Name:    name,
				Source:  itemPath,
				DiskID:  "1",
				KeyPath: true,
				rel:     itemRel,
				size:    info.Size(),
			}
			appendChild(comp, file)
			appendChild(parent, comp)
			bc.files = append(bc.files, file)
		default:
			bc.skipped++
			level.Debug(ctxlog.FromContext(bc.ctx)).Log(
				"msg", "skipping irregular file",
				"path", itemPath,
				"mode", info.Mode().String(),
			)
		}
	}
	return nil
}

// newComponent returns a component and records it for the feature.
func (bc *buildContext) newComponent() *Component {
	comp := &Component{
		Node:  Node{ID: ids.NewID("cmp")},
		Guid:  ids.NewGUID(),
		Win64: bc.m.X64(),
	}
	bc.components = append(bc.components, comp)
	return comp
}

// findByPath returns the working directory and file ids of the file
// whose source is path. The search is depth first and the first match
// wins.
func findByPath(parent Element, path string) (string, string, bool) {
	for _, child := range parent.Base().children {
		switch c := child.(type) {
		case *Component:
			if len(c.children) == 0 {
				continue
			}
			if f, ok := c.children[0].(*File); ok && f.Source == path {
				return parent.Base().ID, f.ID, true
			}
		case *Directory:
			if wd, id, ok := findByPath(c, path); ok {
				return wd, id, true
			}
		}
	}
	return "", "", false
}

func (bc *buildContext) registryKey() string {
	return fmt.Sprintf(`Software\%s\%s`,
		strings.ReplaceAll(bc.m.Manufacturer, " ", "_"),
		strings.ReplaceAll(bc.m.Name, " ", "_"),
	)
}

func hkcr(key, name, value string) *RegistryValue {
	return &RegistryValue{
		Node:  Node{ID: ids.NewID("reg")},
		Root:  "HKCR",
		Key:   key,
		Name:  name,
		Type:  "string",
		Value: value,
	}
}

func (bc *buildContext) shortcuts(product *Product, targetDir *Directory) error {
	m := bc.m
	if len(m.Shortcuts) == 0 || m.ProgramMenuFolder == "" {
		return nil
	}

	pmDir := &Directory{Node: Node{ID: "ProgramMenuFolder", Comment: "Application ProgramMenu folder"}}
	appendChild(targetDir, pmDir)

	menuDir := &Directory{Node: Node{ID: ids.NewID("mnu")}, Name: m.ProgramMenuFolder}
	appendChild(pmDir, menuDir)

	dirRef := &DirectoryRef{Node: Node{ID: menuDir.ID}}
	appendChild(product, dirRef)

	for i, s := range m.Shortcuts {
		target := filepath.Join(m.SourceDir, filepath.FromSlash(s.Target))
		workDir, targetID, ok := findByPath(targetDir, target)
		if !ok {
			return errors.Wrapf(msi.ErrUnresolvedReference, "shortcut %s: target %s is not in the source tree", s.Name, s.Target)
		}

		comp := bc.newComponent()
		appendChild(dirRef, comp)

		appendChild(comp, &Shortcut{
			Node:             Node{ID: ids.NewID("i")},
			Name:             s.Name,
			Description:      s.Description,
			Target:           fmt.Sprintf("[#%s]", targetID),
			WorkingDirectory: workDir,
		})

		// One RemoveFolder cleans up the menu folder for all shortcuts.
		if i == 0 {
			appendChild(comp, &RemoveFolder{Node: Node{ID: dirRef.ID}, On: controlUninstall})
		}

		appendChild(comp, &RegistryValue{
			Node:    Node{ID: ids.NewID("reg")},
			Root:    "HKCU",
			Key:     bc.registryKey(),
			Name:    s.Name,
			Type:    "integer",
			Value:   "1",
			KeyPath: true,
		})

		for _, rv := range associations(s, targetID) {
			appendChild(comp, rv)
		}
	}
	return nil
}

// associations returns the HKCR values registering the shortcut's
// target as handler for its extensions.
func associations(s manifest.Shortcut, targetID string) []*RegistryValue {
	var values []*RegistryValue
	command := fmt.Sprintf(`"[#%s]" "%%1"`, targetID)
	openWith := "Open with " + s.Name
	editWith := "Edit with " + s.Name

	if len(s.OpenWith) > 0 {
		values = append(values,
			hkcr(s.Name, "", s.Description),
			hkcr(s.Name+`\shell\open`, "", openWith),
			hkcr(s.Name+`\shell\open\command`, "", command),
		)
		for _, ext := range s.OpenWith {
			values = append(values, hkcr(ext+`\OpenWithProgids`, s.Name, ""))
		}
	}

	for _, ext := range s.EditWith {
		values = append(values,
			hkcr(ext+`\shell\edit`, "", editWith),
			hkcr(ext+`\shell\edit\command`, "", command),
		)
	}

	for _, a := range s.Open {
		progID := s.Name + a.Extension
		iconIndex := a.IconIndex.String()
		if iconIndex == "" {
			iconIndex = "0"
		}

		values = append(values,
			hkcr(progID, "", a.Description),
			hkcr(progID+`\DefaultIcon`, "", fmt.Sprintf(`"[#%s]",%s`, targetID, iconIndex)),
			hkcr(progID+`\shell\open`, "", openWith),
			hkcr(progID+`\shell\open\command`, "", command),
		)
		if a.Edit {
			values = append(values,
				hkcr(progID+`\shell\edit`, "", editWith),
				hkcr(progID+`\shell\edit\command`, "", command),
			)
		}
		values = append(values,
			hkcr(a.Extension, "", progID),
			hkcr(a.Extension, "Content Type", a.MIME),
			hkcr(a.Extension+`\OpenWithProgids`, progID, ""),
		)
	}
	return values
}

// environment adds the PATH entries, in a component of their own
// under TARGETDIR.
func (bc *buildContext) environment(product *Product) {
	m := bc.m
	if len(m.AddToPath) == 0 && len(m.AddBeforePath) == 0 {
		return
	}

	dirRef := &DirectoryRef{Node: Node{ID: "TARGETDIR"}}
	appendChild(product, dirRef)

	comp := bc.newComponent()
	appendChild(dirRef, comp)

	entry := func(p, part string) *Environment {
		return &Environment{
			Node:   Node{ID: ids.NewID("env")},
			Name:   "PATH",
			Value:  "[INSTALLDIR]" + p,
			Part:   part,
			Action: "set",
			System: m.PerMachine(),
		}
	}
	for _, p := range m.AddToPath {
		appendChild(comp, entry(p, "last"))
	}
	for _, p := range m.AddBeforePath {
		appendChild(comp, entry(p, "first"))
	}

	appendChild(comp, &RegistryValue{
		Node:    Node{ID: ids.NewID("reg")},
		Root:    "HKMU",
		Key:     bc.registryKey(),
		Name:    "Path",
		Type:    "integer",
		Value:   "1",
		KeyPath: true,
	})
}

// services attaches ServiceInstall and ServiceControl to the component
// of each service's file.
func (bc *buildContext) services() error {
	for _, s := range bc.m.Services {
		file, err := matchService(s, bc.files)
		if err != nil {
			return err
		}
		si, sc := newService(s)
		comp := file.parent
		appendChild(comp, si)
		appendChild(comp, sc)
	}
	return nil
}

// Destroy unlinks every element, children first.
func (t *Tree) Destroy() {
	if t == nil || t.root == nil {
		return
	}
	destroy(t.root)
	*t = Tree{}
}

func destroy(e Element) {
	n := e.Base()
	for _, child := range n.children {
		destroy(child)
	}
	n.children = nil
	n.parent = nil
}
