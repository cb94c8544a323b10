// Package schema is the catalog of every table msikit writes into an
// installer database: column names, types, nullability and primary
// keys, as well as the order tables are written in.
//
// Column definitions follow the Windows Installer database reference
// (https://learn.microsoft.com/en-us/windows/win32/msi/database-tables).
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Table names.
const (
	Property               = "Property"
	Icon                   = "Icon"
	Binary                 = "Binary"
	Media                  = "Media"
	Directory              = "Directory"
	Component              = "Component"
	Feature                = "Feature"
	FeatureComponents      = "FeatureComponents"
	RemoveFile             = "RemoveFile"
	Registry               = "Registry"
	ServiceControl         = "ServiceControl"
	ServiceInstall         = "ServiceInstall"
	File                   = "File"
	AdminExecuteSequence   = "AdminExecuteSequence"
	AdminUISequence        = "AdminUISequence"
	AdvtExecuteSequence    = "AdvtExecuteSequence"
	InstallExecuteSequence = "InstallExecuteSequence"
	InstallUISequence      = "InstallUISequence"
	Streams                = "_Streams"
	Shortcut               = "Shortcut"
	Upgrade                = "Upgrade"
	LaunchCondition        = "LaunchCondition"
	AppSearch              = "AppSearch"
	CustomAction           = "CustomAction"
	RegLocator             = "RegLocator"
	CreateFolder           = "CreateFolder"
	Signature              = "Signature"
	MsiFileHash            = "MsiFileHash"
	Error                  = "Error"
	Environment            = "Environment"
	Validation             = "_Validation"
)

// Table is the definition of a single table.
type Table struct {
	Name    string
	Columns []Column

	// Predefined tables exist in every database and are never
	// created explicitly.
	Predefined bool
}

// Keys returns the names of the primary key columns, in column order.
func (t *Table) Keys() []string {
	var keys []string
	for _, c := range t.Columns {
		if c.Key {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns every column name, in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// InsertSQL returns an INSERT statement for the named columns, with
// one `?` placeholder per column. Identifiers are quoted with
// backticks, which both the MSI SQL dialect and SQLite accept.
func (t *Table) InsertSQL(columns []string) string {
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		t.Name, quoteAll(columns), strings.Join(marks, ", "))
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}

func actionColumns() []Column {
	return []Column{
		char("Action", 72, notNull|key),
		char("Condition", 255, 0),
		short("Sequence", 0),
	}
}

var registry = map[string]*Table{
	Property: {Name: Property, Columns: []Column{
		char("Property", 72, notNull|key),
		char("Value", 0, notNull|localizable),
	}},
	Icon: {Name: Icon, Columns: []Column{
		char("Name", 72, notNull|key),
		object("Data", notNull),
	}},
	Binary: {Name: Binary, Columns: []Column{
		char("Name", 72, notNull|key),
		object("Data", notNull),
	}},
	Media: {Name: Media, Columns: []Column{
		short("DiskId", notNull|key),
		long("LastSequence", notNull),
		char("DiskPrompt", 64, localizable),
		char("Cabinet", 255, 0),
		char("VolumeLabel", 32, 0),
		char("Source", 72, 0),
	}},
	Directory: {Name: Directory, Columns: []Column{
		char("Directory", 72, notNull|key),
		char("Directory_Parent", 72, 0),
		char("DefaultDir", 255, notNull|localizable),
	}},
	Component: {Name: Component, Columns: []Column{
		char("Component", 72, notNull|key),
		char("ComponentId", 38, 0),
		char("Directory_", 72, notNull),
		short("Attributes", notNull),
		char("Condition", 255, 0),
		char("KeyPath", 72, 0),
	}},
	Feature: {Name: Feature, Columns: []Column{
		char("Feature", 38, notNull|key),
		char("Feature_Parent", 38, 0),
		char("Title", 64, localizable),
		char("Description", 255, localizable),
		short("Display", 0),
		short("Level", notNull),
		char("Directory_", 72, 0),
		short("Attributes", notNull),
	}},
	FeatureComponents: {Name: FeatureComponents, Columns: []Column{
		char("Feature_", 38, notNull|key),
		char("Component_", 72, notNull|key),
	}},
	RemoveFile: {Name: RemoveFile, Columns: []Column{
		char("FileKey", 72, notNull|key),
		char("Component_", 72, notNull),
		char("FileName", 255, localizable),
		char("DirProperty", 72, notNull),
		short("InstallMode", notNull),
	}},
	Registry: {Name: Registry, Columns: []Column{
		char("Registry", 72, notNull|key),
		short("Root", notNull),
		char("Key", 255, notNull|localizable),
		char("Name", 255, localizable),
		char("Value", 255, localizable),
		char("Component_", 72, notNull),
	}},
	ServiceControl: {Name: ServiceControl, Columns: []Column{
		char("ServiceControl", 72, notNull|key),
		char("Name", 255, notNull|localizable),
		short("Event", notNull),
		char("Arguments", 255, localizable),
		short("Wait", 0),
		char("Component_", 72, notNull),
	}},
	ServiceInstall: {Name: ServiceInstall, Columns: []Column{
		char("ServiceInstall", 72, notNull|key),
		char("Name", 255, notNull),
		char("DisplayName", 255, localizable),
		long("ServiceType", notNull),
		long("StartType", notNull),
		long("ErrorControl", notNull),
		char("LoadOrderGroup", 255, 0),
		char("Dependencies", 255, 0),
		char("StartName", 255, 0),
		char("Password", 255, 0),
		char("Arguments", 255, 0),
		char("Component_", 72, notNull),
		char("Description", 255, localizable),
	}},
	File: {Name: File, Columns: []Column{
		char("File", 72, notNull|key),
		char("Component_", 72, notNull),
		char("FileName", 255, notNull|localizable),
		long("FileSize", notNull),
		char("Version", 72, 0),
		char("Language", 20, 0),
		short("Attributes", 0),
		long("Sequence", notNull),
	}},
	AdminExecuteSequence:   {Name: AdminExecuteSequence, Columns: actionColumns()},
	AdminUISequence:        {Name: AdminUISequence, Columns: actionColumns()},
	AdvtExecuteSequence:    {Name: AdvtExecuteSequence, Columns: actionColumns()},
	InstallExecuteSequence: {Name: InstallExecuteSequence, Columns: actionColumns()},
	InstallUISequence:      {Name: InstallUISequence, Columns: actionColumns()},
	Streams: {Name: Streams, Predefined: true, Columns: []Column{
		char("Name", 72, notNull|key),
		object("Data", notNull),
	}},
	Shortcut: {Name: Shortcut, Columns: []Column{
		char("Shortcut", 72, notNull|key),
		char("Directory_", 72, notNull),
		char("Name", 128, notNull|localizable),
		char("Component_", 72, notNull),
		char("Target", 72, notNull),
		char("Arguments", 255, 0),
		char("Description", 255, localizable),
		short("Hotkey", 0),
		char("Icon_", 72, 0),
		short("IconIndex", 0),
		short("ShowCmd", 0),
		char("WkDir", 72, 0),
		char("DisplayResourceDLL", 255, 0),
		short("DisplayResourceId", 0),
		char("DescriptionResourceDLL", 255, 0),
		short("DescriptionResourceId", 0),
	}},
	Upgrade: {Name: Upgrade, Columns: []Column{
		char("UpgradeCode", 38, notNull|key),
		char("VersionMin", 20, key),
		char("VersionMax", 20, key),
		char("Language", 255, key),
		long("Attributes", notNull|key),
		char("Remove", 255, 0),
		char("ActionProperty", 72, notNull),
	}},
	LaunchCondition: {Name: LaunchCondition, Columns: []Column{
		char("Condition", 255, notNull|key),
		char("Description", 255, notNull|localizable),
	}},
	AppSearch: {Name: AppSearch, Columns: []Column{
		char("Property", 72, notNull|key),
		char("Signature_", 72, notNull|key),
	}},
	CustomAction: {Name: CustomAction, Columns: []Column{
		char("Action", 72, notNull|key),
		short("Type", notNull),
		char("Source", 72, 0),
		char("Target", 255, 0),
		long("ExtendedType", 0),
	}},
	RegLocator: {Name: RegLocator, Columns: []Column{
		char("Signature_", 72, notNull|key),
		short("Root", notNull),
		char("Key", 255, notNull),
		char("Name", 255, 0),
		short("Type", 0),
	}},
	CreateFolder: {Name: CreateFolder, Columns: []Column{
		char("Directory_", 72, notNull|key),
		char("Component_", 72, notNull|key),
	}},
	Signature: {Name: Signature, Columns: []Column{
		char("Signature", 72, notNull|key),
		char("FileName", 255, notNull),
		char("MinVersion", 20, 0),
		char("MaxVersion", 20, 0),
		long("MinSize", 0),
		long("MaxSize", 0),
		long("MinDate", 0),
		long("MaxDate", 0),
		char("Languages", 255, 0),
	}},
	MsiFileHash: {Name: MsiFileHash, Columns: []Column{
		char("File_", 72, notNull|key),
		short("Options", notNull),
		long("HashPart1", notNull),
		long("HashPart2", notNull),
		long("HashPart3", notNull),
		long("HashPart4", notNull),
	}},
	Error: {Name: Error, Columns: []Column{
		short("Error", notNull|key),
		char("Message", 0, localizable),
	}},
	Environment: {Name: Environment, Columns: []Column{
		char("Environment", 72, notNull|key),
		char("Name", 255, notNull),
		char("Value", 255, 0),
		char("Component_", 72, notNull),
	}},
	Validation: {Name: Validation, Columns: []Column{
		char("Table", 32, notNull|key),
		char("Column", 32, notNull|key),
		char("Nullable", 4, notNull),
		long("MinValue", 0),
		long("MaxValue", 0),
		char("KeyTable", 255, 0),
		short("KeyColumn", 0),
		char("Category", 32, 0),
		char("Set", 255, 0),
		char("Description", 255, 0),
	}},
}

// WriteOrder is the order tables are written to a database. Tables
// referenced by foreign keys come before the tables referencing them.
var WriteOrder = []string{
	Validation,
	Error,

	AdminExecuteSequence,
	AdminUISequence,
	AdvtExecuteSequence,
	InstallExecuteSequence,
	InstallUISequence,

	Directory,
	Media,
	Property,
	Icon,
	Binary,

	Component,
	Feature,
	FeatureComponents,
	CreateFolder,
	RemoveFile,
	Registry,
	Environment,
	ServiceControl,
	ServiceInstall,

	File,
	Streams,
	Shortcut,

	Upgrade,
	LaunchCondition,
	AppSearch,
	RegLocator,
	Signature,
	CustomAction,
	MsiFileHash,
}

// Lookup returns the definition of the named table.
func Lookup(name string) (*Table, bool) {
	t, ok := registry[name]
	return t, ok
}

// Names returns every registered table name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SequenceTables are the five action sequence tables.
var SequenceTables = []string{
	AdminExecuteSequence,
	AdminUISequence,
	AdvtExecuteSequence,
	InstallExecuteSequence,
	InstallUISequence,
}
