package wixmodel

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/kolide/msikit/pkg/msi/ids"
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/pkg/errors"
)

// Populate adds the rows of every element to db, walking the tree in
// pre-order.
func (t *Tree) Populate(ctx context.Context, db *msi.Database) error {
	if t.root == nil {
		return errors.New("tree has been destroyed")
	}
	return populate(ctx, db, t.root)
}

func populate(ctx context.Context, db *msi.Database, e Element) error {
	if err := contribute(ctx, db, e); err != nil {
		return errors.Wrapf(err, "%s %s", e.Kind(), e.Base().ID)
	}
	for _, child := range e.Base().children {
		if err := populate(ctx, db, child); err != nil {
			return err
		}
	}
	return nil
}

var (
	str = schema.Str
	opt = schema.OptStr
	num = schema.Int
	nul = schema.Null
)

func contribute(ctx context.Context, db *msi.Database, e Element) error {
	var err error

	switch e := e.(type) {
	case *Wix, *DirectoryRef:

	case *Product:
		cp, cerr := strconv.Atoi(e.Codepage)
		if cerr != nil {
			return errors.Wrapf(msi.ErrInvalidModel, "code page %q", e.Codepage)
		}
		db.Codepage = cp
		for _, p := range [][2]string{
			{"Manufacturer", e.Manufacturer},
			{"ProductLanguage", e.Language},
			{"ProductCode", braced(e.ID)},
			{"ProductName", e.Name},
			{"ProductVersion", e.Version},
			{"UpgradeCode", braced(e.UpgradeCode)},
		} {
			if _, err := db.Add(schema.Property, str(p[0]), str(p[1])); err != nil {
				return err
			}
		}

	case *Package:
		if e.InstallScope == "perMachine" {
			_, err = db.Add(schema.Property, str("ALLUSERS"), str("1"))
		}

	case *Media:
		disk, derr := strconv.Atoi(e.ID)
		if derr != nil {
			return errors.Wrapf(msi.ErrInvalidModel, "disk id %q", e.ID)
		}
		cabinet := e.Cabinet
		if e.EmbedCab {
			cabinet = "#" + cabinet
		}
		var row msi.Row
		row, err = db.Add(schema.Media, num(disk), num(0), opt(e.DiskPrompt), str(cabinet), nul(), nul())
		if err == nil {
			db.AddMedia(row)
		}

	case *Property:
		_, err = db.Add(schema.Property, str(e.ID), str(e.Value))

	case *Icon:
		if _, serr := os.Stat(e.SourceFile); serr != nil {
			level.Debug(ctxlog.FromContext(ctx)).Log(
				"msg", "icon not found, leaving it out",
				"icon", e.SourceFile,
			)
			return nil
		}
		_, err = db.Add(schema.Icon, str(e.ID), schema.Stream(e.SourceFile))

	case *Condition:
		_, err = db.Add(schema.LaunchCondition, str(e.Expression), str(e.Message))

	case *Directory:
		parent := nul()
		switch e.parent.(type) {
		case *Directory, *DirectoryRef:
			parent = str(parentID(e))
		}
		name := e.Name
		switch {
		case e.Verbatim:
		case name == "":
			name = "."
		default:
			name = ids.LegacyName(name)
		}
		_, err = db.Add(schema.Directory, str(e.ID), parent, str(name))

	case *Component:
		attrs := msi.ComponentLocalOnly
		if e.Win64 {
			attrs |= msi.Component64Bit
		}
		keyPath, isRegistry, kerr := componentKeyPath(e)
		if kerr != nil {
			return kerr
		}
		if isRegistry {
			attrs |= msi.ComponentRegistryKeyPath
		}
		_, err = db.Add(schema.Component, str(e.ID), str(braced(e.Guid)), str(parentID(e)), num(attrs), nul(), str(keyPath))

	case *File:
		sequence := db.Table(schema.File).Len() + 1
		_, err = db.Add(schema.File,
			str(e.ID), str(parentID(e)), str(ids.LegacyName(e.Name)), num(int(e.size)),
			nul(), nul(), num(msi.FileVital), num(sequence))
		if err == nil {
			db.AddFile(e.Source, e.ID)
		}

	case *Feature:
		parent := nul()
		if _, ok := e.parent.(*Feature); ok {
			parent = str(parentID(e))
		}
		_, err = db.Add(schema.Feature,
			str(e.ID), parent, opt(e.Title), opt(e.Description),
			num(msi.FeatureCollapse), num(e.Level), nul(), num(0))

	case *ComponentRef:
		_, err = db.Add(schema.FeatureComponents, str(parentID(e)), str(e.ID))

	case *Shortcut:
		_, err = db.Add(schema.Shortcut,
			str(e.ID), str(grandparentID(e)), str(e.Name), str(parentID(e)),
			str(e.Target), nul(), opt(e.Description),
			nul(), nul(), nul(), nul(),
			opt(e.WorkingDirectory),
			nul(), nul(), nul(), nul())

	case *RemoveFolder:
		mode, merr := msi.ParseInstallMode(e.On)
		if merr != nil {
			return merr
		}
		_, err = db.Add(schema.RemoveFile, str(e.ID), str(parentID(e)), nul(), str(grandparentID(e)), num(int(mode)))

	case *RegistryValue:
		root, rerr := msi.ParseRegistryRoot(e.Root)
		if rerr != nil {
			return rerr
		}
		typ, terr := msi.ParseRegistryValueType(e.Type)
		if terr != nil {
			return errors.Wrapf(terr, "RegistryValue %s", e.ID)
		}
		value := registryValue(typ, e.Value)
		_, err = db.Add(schema.Registry, str(e.ID), num(int(root)), str(e.Key), opt(e.Name), opt(value), str(parentID(e)))

	case *Environment:
		name := "=-" + e.Name
		if e.System {
			name = "=-*" + e.Name
		}
		value := e.Value + ";[~]"
		if e.Part == "last" {
			value = "[~];" + e.Value
		}
		_, err = db.Add(schema.Environment, str(e.ID), str(name), str(value), str(parentID(e)))

	case *ServiceInstall:
		errorControl := msi.ServiceErrorNormal
		if e.Vital {
			errorControl |= msi.ServiceErrorVital
		}
		_, err = db.Add(schema.ServiceInstall,
			str(e.ID), str(e.Name), opt(e.DisplayName),
			num(msi.ServiceOwnProcess), num(serviceStartType(e.Start)), num(errorControl),
			nul(), nul(), opt(e.Account), nul(), opt(e.Arguments),
			str(parentID(e)), opt(e.Description))

	case *ServiceControl:
		wait := 0
		if e.Wait {
			wait = 1
		}
		_, err = db.Add(schema.ServiceControl, str(e.ID), str(e.Name), num(serviceEvents(e)), nul(), num(wait), str(parentID(e)))

	default:
		return errors.Wrapf(msi.ErrInvalidModel, "unknown element %T", e)
	}

	return err
}

// componentKeyPath picks the key path of a component: its first
// registry value if it has any, otherwise its first file.
// registryValue applies the Registry table prefix marking non string
// data. Values that already carry it are stored as is.
func registryValue(typ msi.RegistryValueType, value string) string {
	var prefix string
	switch typ {
	case msi.RegistryInteger:
		prefix = "#"
	case msi.RegistryBinary:
		prefix = "#x"
	case msi.RegistryExpandable:
		prefix = "#%"
	default:
		return value
	}
	if strings.HasPrefix(value, prefix) {
		return value
	}
	return prefix + value
}

func componentKeyPath(c *Component) (string, bool, error) {
	if len(c.children) == 0 {
		return "", false, errors.Wrapf(msi.ErrInvalidModel, "component %s is empty", c.ID)
	}
	for _, child := range c.children {
		if rv, ok := child.(*RegistryValue); ok {
			return rv.ID, true, nil
		}
	}
	for _, child := range c.children {
		if f, ok := child.(*File); ok {
			return f.ID, false, nil
		}
	}
	return "", false, errors.Wrapf(msi.ErrInvalidModel, "component %s has neither a file nor a registry value for a key path", c.ID)
}

func braced(guid string) string {
	return fmt.Sprintf("{%s}", guid)
}
