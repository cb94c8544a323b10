package wixmodel

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Dialect selects the flavor of WiX XML to write.
type Dialect int

const (
	// DialectWiX is what the WiX toolset's candle accepts.
	DialectWiX Dialect = iota
	// DialectWixl is what msitools' wixl accepts. It takes condition
	// bodies as plain text and has no Package Platform attribute.
	DialectWixl
)

func (d Dialect) String() string {
	switch d {
	case DialectWiX:
		return "wix"
	case DialectWixl:
		return "wixl"
	}
	return "unknown"
}

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "wix", "":
		return DialectWiX, nil
	case "wixl":
		return DialectWixl, nil
	}
	return 0, errors.Errorf("unknown XML dialect %q", s)
}

const (
	indentStep = 4
	// elements with more attributes than this get one per line
	wrapAttrs = 3
)

type xmlOptions struct {
	dialect  Dialect
	encoding string
}

type XMLOpt func(*xmlOptions)

func WithDialect(d Dialect) XMLOpt {
	return func(o *xmlOptions) {
		o.dialect = d
	}
}

// WithEncoding sets the output encoding by its WHATWG name or label,
// for example "utf-8" or "windows-1251". Characters the encoding
// cannot represent become character references.
func WithEncoding(name string) XMLOpt {
	return func(o *xmlOptions) {
		o.encoding = name
	}
}

// WriteXML renders the tree as a WiX source document. Rendering the
// same tree twice gives the same bytes.
func (t *Tree) WriteXML(w io.Writer, opts ...XMLOpt) error {
	if t.root == nil {
		return errors.New("tree has been destroyed")
	}

	o := &xmlOptions{encoding: "utf-8"}
	for _, opt := range opts {
		opt(o)
	}

	enc, err := htmlindex.Get(o.encoding)
	if err != nil {
		return errors.Wrapf(err, "XML encoding %q", o.encoding)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return errors.Wrapf(err, "XML encoding %q", o.encoding)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<?xml version=\"1.0\" encoding=\"%s\"?>\n", name)

	xw := &xmlWriter{buf: &buf, dialect: o.dialect}
	xw.element(t.root, 0)

	out, err := encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Bytes(buf.Bytes())
	if err != nil {
		return errors.Wrapf(err, "encoding XML as %s", name)
	}

	_, err = w.Write(out)
	return err
}

type attr struct {
	name  string
	value string
}

type xmlWriter struct {
	buf     *bytes.Buffer
	dialect Dialect
}

func (xw *xmlWriter) element(e Element, indent int) {
	n := e.Base()
	tab := strings.Repeat(" ", indent)
	tag := e.Kind().String()

	if n.blank {
		xw.buf.WriteString("\n")
	}
	if n.Comment != "" {
		fmt.Fprintf(xw.buf, "%s<!-- %s -->\n", tab, n.Comment)
	}

	xw.buf.WriteString(tab + "<" + tag)
	attrs := attributes(e, xw.dialect)
	sep := " "
	if len(attrs) > wrapAttrs {
		sep = "\n" + tab + "  "
	}
	for _, a := range attrs {
		xw.buf.WriteString(sep + a.name + `="`)
		xml.EscapeText(xw.buf, []byte(a.value)) //nolint:errcheck // writes to a bytes.Buffer
		xw.buf.WriteString(`"`)
	}

	if c, ok := e.(*Condition); ok {
		xw.condition(c, tab, indent)
		return
	}

	if len(n.children) == 0 {
		xw.buf.WriteString(" />\n")
		return
	}

	xw.buf.WriteString(">\n")
	for _, child := range n.children {
		xw.element(child, indent+indentStep)
	}
	fmt.Fprintf(xw.buf, "%s</%s>\n", tab, tag)
}

func (xw *xmlWriter) condition(c *Condition, tab string, indent int) {
	if xw.dialect == DialectWixl {
		xw.buf.WriteString(">")
		xml.EscapeText(xw.buf, []byte(c.Expression)) //nolint:errcheck // writes to a bytes.Buffer
		xw.buf.WriteString("</Condition>\n")
		return
	}

	inner := strings.Repeat(" ", indent+indentStep)
	body := strings.ReplaceAll(c.Expression, "]]>", "]]]]><![CDATA[>")
	fmt.Fprintf(xw.buf, ">\n%s<![CDATA[%s]]>\n%s</Condition>\n", inner, body, tab)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// attributes lists the XML attributes of e in document order. Empty
// optional attributes are left out.
func attributes(e Element, d Dialect) []attr {
	id := attr{"Id", e.Base().ID}

	var attrs []attr
	add := func(name, value string) {
		if value != "" {
			attrs = append(attrs, attr{name, value})
		}
	}

	switch e := e.(type) {
	case *Wix:
		add("xmlns", e.Xmlns)
	case *Product:
		attrs = append(attrs, id)
		add("Name", e.Name)
		add("UpgradeCode", e.UpgradeCode)
		add("Language", e.Language)
		add("Codepage", e.Codepage)
		add("Version", e.Version)
		add("Manufacturer", e.Manufacturer)
	case *Package:
		attrs = append(attrs, id)
		add("Keywords", e.Keywords)
		add("Description", e.Description)
		add("Comments", e.Comments)
		add("InstallerVersion", e.InstallerVersion)
		add("Languages", e.Languages)
		add("Compressed", yesNo(e.Compressed))
		add("Manufacturer", e.Manufacturer)
		add("SummaryCodepage", e.SummaryCodepage)
		if d != DialectWixl {
			add("Platform", e.Platform)
		}
		add("InstallScope", e.InstallScope)
	case *Media:
		attrs = append(attrs, id)
		add("Cabinet", e.Cabinet)
		add("EmbedCab", yesNo(e.EmbedCab))
		add("DiskPrompt", e.DiskPrompt)
	case *Property:
		attrs = append(attrs, id, attr{"Value", e.Value})
	case *Icon:
		attrs = append(attrs, id)
		add("SourceFile", e.SourceFile)
	case *Directory:
		attrs = append(attrs, id)
		add("Name", e.Name)
	case *DirectoryRef, *ComponentRef:
		attrs = append(attrs, id)
	case *Component:
		attrs = append(attrs, id)
		add("Guid", e.Guid)
		if e.Win64 {
			add("Win64", "yes")
		}
	case *File:
		attrs = append(attrs, id)
		add("DiskId", e.DiskID)
		add("Name", e.Name)
		if e.KeyPath {
			add("KeyPath", "yes")
		}
		add("Source", e.Source)
	case *Feature:
		attrs = append(attrs, id)
		add("Title", e.Title)
		add("Description", e.Description)
		add("Level", strconv.Itoa(e.Level))
	case *Shortcut:
		attrs = append(attrs, id)
		add("Name", e.Name)
		add("Description", e.Description)
		add("Target", e.Target)
		add("WorkingDirectory", e.WorkingDirectory)
	case *RemoveFolder:
		attrs = append(attrs, id)
		add("On", e.On)
	case *RegistryValue:
		attrs = append(attrs, id)
		add("Root", e.Root)
		add("Key", e.Key)
		add("Name", e.Name)
		add("Type", e.Type)
		attrs = append(attrs, attr{"Value", e.Value})
		if e.KeyPath {
			add("KeyPath", "yes")
		}
	case *Condition:
		add("Message", e.Message)
		add("Level", e.Level)
	case *Environment:
		attrs = append(attrs, id)
		add("Name", e.Name)
		attrs = append(attrs, attr{"Value", e.Value})
		add("Permanent", yesNo(e.Permanent))
		add("Part", e.Part)
		add("Action", e.Action)
		add("System", yesNo(e.System))
	case *ServiceInstall:
		attrs = append(attrs, id)
		add("Name", e.Name)
		add("DisplayName", e.DisplayName)
		add("Description", e.Description)
		add("Type", e.Type)
		add("Start", e.Start)
		add("ErrorControl", e.ErrorControl)
		add("Account", e.Account)
		add("Arguments", e.Arguments)
		add("Vital", yesNo(e.Vital))
	case *ServiceControl:
		attrs = append(attrs, id)
		add("Name", e.Name)
		add("Start", e.Start)
		add("Stop", e.Stop)
		add("Remove", e.Remove)
		add("Wait", yesNo(e.Wait))
	}
	return attrs
}
