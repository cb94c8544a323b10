package msi

import (
	"strings"

	"github.com/pkg/errors"
)

// SourceFlags is the word count summary property.
const (
	SourceShortNames   = 1 << 0
	SourceCompressed   = 1 << 1
	SourceAdmin        = 1 << 2
	SourceNoPrivileges = 1 << 3
)

// Component attributes.
const (
	ComponentLocalOnly               = 0
	ComponentSourceOnly              = 1 << 0
	ComponentOptional                = 1 << 1
	ComponentRegistryKeyPath         = 1 << 2
	ComponentSharedDLLRefCount       = 1 << 3
	ComponentPermanent               = 1 << 4
	ComponentODBCDataSource          = 1 << 5
	ComponentTransitive              = 1 << 6
	ComponentNeverOverwrite          = 1 << 7
	Component64Bit                   = 1 << 8
	ComponentRegistryReflection      = 1 << 9
	ComponentUninstallOnSupersedence = 1 << 10
	ComponentShared                  = 1 << 11
)

// Feature display modes.
const (
	FeatureHidden   = 0
	FeatureExpand   = 1 << 0
	FeatureCollapse = 1 << 1
)

// File attributes.
const (
	FileReadOnly      = 1 << 0
	FileHidden        = 1 << 1
	FileSystem        = 1 << 2
	FileVital         = 1 << 9
	FileChecksum      = 1 << 10
	FilePatchAdded    = 1 << 11
	FileNonCompressed = 1 << 12
	FileCompressed    = 1 << 13
)

// Upgrade attributes.
const (
	UpgradeMigrateFeatures     = 1 << 0
	UpgradeOnlyDetect          = 1 << 1
	UpgradeIgnoreRemoveFailure = 1 << 2
	UpgradeVersionMinInclusive = 1 << 8
	UpgradeVersionMaxInclusive = 1 << 9
	UpgradeLanguagesExclusive  = 1 << 10
)

// ServiceControl events.
const (
	ServiceInstallStart    = 1 << 0
	ServiceInstallStop     = 1 << 1
	ServiceInstallDelete   = 1 << 3
	ServiceUninstallStart  = 1 << 4
	ServiceUninstallStop   = 1 << 5
	ServiceUninstallDelete = 1 << 7
)

// ServiceInstall types and start modes.
const (
	ServiceOwnProcess = 0x10

	ServiceAutoStart   = 2
	ServiceDemandStart = 3
	ServiceDisabled    = 4

	ServiceErrorNormal = 1
	ServiceErrorVital  = 0x8000
)

// InstallMode is the RemoveFile.InstallMode column.
type InstallMode int

const (
	InstallModeInstall   InstallMode = 1
	InstallModeUninstall InstallMode = 2
	InstallModeBoth      InstallMode = 3
)

// ParseInstallMode accepts install, uninstall or both, in any case.
func ParseInstallMode(s string) (InstallMode, error) {
	switch strings.ToLower(s) {
	case "install":
		return InstallModeInstall, nil
	case "uninstall":
		return InstallModeUninstall, nil
	case "both":
		return InstallModeBoth, nil
	}
	return 0, errors.Wrapf(ErrInvalidModel, "unknown install mode %q", s)
}

// RegistryRoot is the Registry.Root column.
type RegistryRoot int

// HKMU resolves to HKCU or HKLM depending on ALLUSERS.
const (
	HKMU RegistryRoot = -1
	HKCR RegistryRoot = 0
	HKCU RegistryRoot = 1
	HKLM RegistryRoot = 2
	HKU  RegistryRoot = 3
)

// ParseRegistryRoot accepts the usual hive abbreviations, in any case.
func ParseRegistryRoot(s string) (RegistryRoot, error) {
	switch strings.ToUpper(s) {
	case "HKCR":
		return HKCR, nil
	case "HKCU":
		return HKCU, nil
	case "HKLM":
		return HKLM, nil
	case "HKU":
		return HKU, nil
	case "HKMU":
		return HKMU, nil
	}
	return 0, errors.Wrapf(ErrInvalidModel, "unknown registry root %q", s)
}

// RegistryValueType is the type of a RegistryValue element.
type RegistryValueType int

const (
	RegistryString      RegistryValueType = 1 << 0
	RegistryInteger     RegistryValueType = 1 << 1
	RegistryBinary      RegistryValueType = 1 << 2
	RegistryExpandable  RegistryValueType = 1 << 3
	RegistryMultiString RegistryValueType = 1 << 4
)

// ParseRegistryValueType accepts string, integer, binary, expandable
// or multistring, in any case.
func ParseRegistryValueType(s string) (RegistryValueType, error) {
	switch strings.ToLower(s) {
	case "string":
		return RegistryString, nil
	case "integer":
		return RegistryInteger, nil
	case "binary":
		return RegistryBinary, nil
	case "expandable":
		return RegistryExpandable, nil
	case "multistring":
		return RegistryMultiString, nil
	}
	return 0, errors.Wrapf(ErrInvalidModel, "unknown registry value type %q", s)
}
