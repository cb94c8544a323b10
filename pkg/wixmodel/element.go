package wixmodel

// Kind identifies an element type. The set of kinds is closed.
type Kind int

const (
	KindWix Kind = iota
	KindProduct
	KindPackage
	KindMedia
	KindProperty
	KindIcon
	KindDirectory
	KindDirectoryRef
	KindComponent
	KindComponentRef
	KindFile
	KindFeature
	KindShortcut
	KindRemoveFolder
	KindRegistryValue
	KindCondition
	KindEnvironment
	KindServiceInstall
	KindServiceControl
)

var kindTags = [...]string{
	KindWix:            "Wix",
	KindProduct:        "Product",
	KindPackage:        "Package",
	KindMedia:          "Media",
	KindProperty:       "Property",
	KindIcon:           "Icon",
	KindDirectory:      "Directory",
	KindDirectoryRef:   "DirectoryRef",
	KindComponent:      "Component",
	KindComponentRef:   "ComponentRef",
	KindFile:           "File",
	KindFeature:        "Feature",
	KindShortcut:       "Shortcut",
	KindRemoveFolder:   "RemoveFolder",
	KindRegistryValue:  "RegistryValue",
	KindCondition:      "Condition",
	KindEnvironment:    "Environment",
	KindServiceInstall: "ServiceInstall",
	KindServiceControl: "ServiceControl",
}

// String returns the XML tag of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindTags) {
		return "Unknown"
	}
	return kindTags[k]
}

// Element is a node of the installer tree.
type Element interface {
	Kind() Kind
	Base() *Node
}

// Node holds what every element has: an id, an optional comment
// rendered above it, and its place in the tree.
type Node struct {
	ID      string
	Comment string

	blank    bool // blank line before the element in XML
	parent   Element
	children []Element
}

func (n *Node) Base() *Node         { return n }
func (n *Node) Parent() Element     { return n.parent }
func (n *Node) Children() []Element { return n.children }

func appendChild(parent, child Element) {
	p := parent.Base()
	p.children = append(p.children, child)
	child.Base().parent = parent
}

// parentID returns the id of e's parent, or "" at the root.
func parentID(e Element) string {
	if p := e.Base().parent; p != nil {
		return p.Base().ID
	}
	return ""
}

// grandparentID returns the id of e's parent's parent, or "".
func grandparentID(e Element) string {
	if p := e.Base().parent; p != nil {
		return parentID(p)
	}
	return ""
}

type Wix struct {
	Node
	Xmlns string
}

type Product struct {
	Node
	Name         string
	UpgradeCode  string
	Language     string
	Codepage     string
	Version      string
	Manufacturer string
}

// Package carries the summary information. Its id is the package code.
type Package struct {
	Node
	Keywords         string
	Description      string
	Comments         string
	InstallerVersion string
	Languages        string
	Compressed       bool
	Manufacturer     string
	SummaryCodepage  string
	Platform         string
	InstallScope     string
}

type Media struct {
	Node
	Cabinet    string
	EmbedCab   bool
	DiskPrompt string
}

type Property struct {
	Node
	Value string
}

// Icon ids are the base name of their source file.
type Icon struct {
	Node
	SourceFile string
}

// Directory is a directory of the installed tree. Names of the well
// known roots are written as given, others get a short name.
type Directory struct {
	Node
	Name     string
	Verbatim bool
}

type DirectoryRef struct {
	Node
}

type Component struct {
	Node
	Guid  string
	Win64 bool
}

type ComponentRef struct {
	Node
}

type File struct {
	Node
	Name    string
	Source  string // absolute path on the build machine
	DiskID  string
	KeyPath bool

	rel  string // slash separated, relative to the source dir
	size int64
}

type Feature struct {
	Node
	Title       string
	Description string
	Level       int
}

type Shortcut struct {
	Node
	Name             string
	Description      string
	Target           string
	WorkingDirectory string
}

type RemoveFolder struct {
	Node
	On string
}

type RegistryValue struct {
	Node
	Root    string
	Key     string
	Name    string
	Type    string
	Value   string
	KeyPath bool
}

// Condition is a launch condition. Conditions have no id.
type Condition struct {
	Node
	Message    string
	Expression string
	Level      string
}

type Environment struct {
	Node
	Name      string
	Value     string
	Permanent bool
	Part      string // first or last
	Action    string
	System    bool
}

type ServiceInstall struct {
	Node
	Name         string
	DisplayName  string
	Description  string
	Arguments    string
	Account      string
	Type         string
	Start        string
	ErrorControl string
	Vital        bool
}

type ServiceControl struct {
	Node
	Name   string
	Start  string
	Stop   string
	Remove string
	Wait   bool
}

func (*Wix) Kind() Kind            { return KindWix }
func (*Product) Kind() Kind        { return KindProduct }
func (*Package) Kind() Kind        { return KindPackage }
func (*Media) Kind() Kind          { return KindMedia }
func (*Property) Kind() Kind       { return KindProperty }
func (*Icon) Kind() Kind           { return KindIcon }
func (*Directory) Kind() Kind      { return KindDirectory }
func (*DirectoryRef) Kind() Kind   { return KindDirectoryRef }
func (*Component) Kind() Kind      { return KindComponent }
func (*ComponentRef) Kind() Kind   { return KindComponentRef }
func (*File) Kind() Kind           { return KindFile }
func (*Feature) Kind() Kind        { return KindFeature }
func (*Shortcut) Kind() Kind       { return KindShortcut }
func (*RemoveFolder) Kind() Kind   { return KindRemoveFolder }
func (*RegistryValue) Kind() Kind  { return KindRegistryValue }
func (*Condition) Kind() Kind      { return KindCondition }
func (*Environment) Kind() Kind    { return KindEnvironment }
func (*ServiceInstall) Kind() Kind { return KindServiceInstall }
func (*ServiceControl) Kind() Kind { return KindServiceControl }

// Size is the file size recorded when the source tree was scanned.
func (f *File) Size() int64 { return f.size }

// Path is the file's path relative to the source dir, slash separated.
func (f *File) Path() string { return f.rel }
