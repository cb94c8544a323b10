package msi

import (
	"sort"

	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/pkg/errors"
)

// SequenceMask selects the sequence tables an action may appear in.
type SequenceMask int

const (
	AdminExecute SequenceMask = 1 << iota
	AdminUI
	AdvtExecute
	InstallExecute
	InstallUI

	AllSequences = AdminExecute | AdminUI | AdvtExecute | InstallExecute | InstallUI
)

var maskForTable = map[string]SequenceMask{
	schema.AdminExecuteSequence:   AdminExecute,
	schema.AdminUISequence:        AdminUI,
	schema.AdvtExecuteSequence:    AdvtExecute,
	schema.InstallExecuteSequence: InstallExecute,
	schema.InstallUISequence:      InstallUI,
}

// Action is a standard action with its suggested sequence number.
type Action struct {
	Name      string
	Condition string
	Sequence  int
	Tables    SequenceMask
}

// Actions is the standard action catalog.
//
// https://learn.microsoft.com/en-us/windows/win32/msi/suggested-installexecutesequence
var Actions = map[string]Action{}

func init() {
	for _, a := range []Action{
		{"InstallInitialize", "", 1500, AdminExecute | AdvtExecute | InstallExecute},
		{"InstallExecute", "NOT Installed", 6500, InstallExecute},
		{"InstallExecuteAgain", "NOT Installed", 6550, InstallExecute},
		{"InstallFinalize", "", 6600, AdminExecute | AdvtExecute | InstallExecute},
		{"InstallFiles", "", 4000, AdminExecute | InstallExecute},
		{"InstallAdminPackage", "", 3900, AdminExecute},
		{"FileCost", "", 900, AdminExecute | AdminUI | InstallExecute | InstallUI},
		{"CostInitialize", "", 800, AllSequences},
		{"CostFinalize", "", 1000, AllSequences},
		{"InstallValidate", "", 1400, AdminExecute | AdvtExecute | InstallExecute},
		{"ExecuteAction", "", 1300, AdminUI | InstallUI},
		{"CreateShortcuts", "", 4500, AdvtExecute | InstallExecute},
		{"MsiPublishAssemblies", "", 6250, AdvtExecute | InstallExecute},
		{"PublishComponents", "", 6200, AdvtExecute | InstallExecute},
		{"PublishFeatures", "", 6300, AdvtExecute | InstallExecute},
		{"PublishProduct", "", 6400, AdvtExecute | InstallExecute},
		{"RegisterClassInfo", "", 4600, AdvtExecute | InstallExecute},
		{"RegisterExtensionInfo", "", 4700, AdvtExecute | InstallExecute},
		{"RegisterMIMEInfo", "", 4900, AdvtExecute | InstallExecute},
		{"RegisterProgIdInfo", "", 4800, AdvtExecute | InstallExecute},
		{"AllocateRegistrySpace", "NOT Installed", 1550, InstallExecute},
		{"AppSearch", "", 50, InstallExecute | InstallUI},
		{"BindImage", "", 4300, InstallExecute},
		{"CCPSearch", "NOT Installed", 500, InstallExecute | InstallUI},
		{"CreateFolders", "", 3700, InstallExecute},
		{"DeleteServices", "VersionNT", 2000, InstallExecute},
		{"DuplicateFiles", "", 4210, InstallExecute},
		{"FindRelatedProducts", "", 25, InstallExecute | InstallUI},
		{"InstallODBC", "", 5400, InstallExecute},
		{"InstallServices", "VersionNT", 5800, InstallExecute},
		{"MsiConfigureServices", "VersionNT>=600", 5850, InstallExecute},
		{"IsolateComponents", "", 950, InstallExecute | InstallUI},
		{"LaunchConditions", "", 100, AdminExecute | AdminUI | InstallExecute | InstallUI},
		{"MigrateFeatureStates", "", 1200, InstallExecute | InstallUI},
		{"MoveFiles", "", 3800, InstallExecute},
		{"PatchFiles", "", 4090, AdminExecute | InstallExecute},
		{"ProcessComponents", "", 1600, InstallExecute},
		{"RegisterComPlus", "", 5700, InstallExecute},
		{"RegisterFonts", "", 5300, InstallExecute},
		{"RegisterProduct", "", 6100, InstallExecute},
		{"RegisterTypeLibraries", "", 5500, InstallExecute},
		{"RegisterUser", "", 6000, InstallExecute},
		{"RemoveDuplicateFiles", "", 3400, InstallExecute},
		{"RemoveEnvironmentStrings", "", 3300, InstallExecute},
		{"RemoveFiles", "", 3500, InstallExecute},
		{"RemoveFolders", "", 3600, InstallExecute},
		{"RemoveIniValues", "", 3100, InstallExecute},
		{"RemoveODBC", "", 2400, InstallExecute},
		{"RemoveRegistryValues", "", 2600, InstallExecute},
		{"RemoveShortcuts", "", 3200, InstallExecute},
		{"RMCCPSearch", "NOT Installed", 600, InstallExecute | InstallUI},
		{"SelfRegModules", "", 5600, InstallExecute},
		{"SelfUnregModules", "", 2200, InstallExecute},
		{"SetODBCFolders", "", 1100, InstallExecute},
		{"StartServices", "VersionNT", 5900, InstallExecute},
		{"StopServices", "VersionNT", 1900, InstallExecute},
		{"MsiUnpublishAssemblies", "", 1750, InstallExecute},
		{"UnpublishComponents", "", 1700, InstallExecute},
		{"UnpublishFeatures", "", 1800, InstallExecute},
		{"UnregisterClassInfo", "", 2700, InstallExecute},
		{"UnregisterComPlus", "", 2100, InstallExecute},
		{"UnregisterExtensionInfo", "", 2800, InstallExecute},
		{"UnregisterFonts", "", 2500, InstallExecute},
		{"UnregisterMIMEInfo", "", 3000, InstallExecute},
		{"UnregisterProgIdInfo", "", 2900, InstallExecute},
		{"UnregisterTypeLibraries", "", 2300, InstallExecute},
		{"ValidateProductID", "", 700, InstallExecute | InstallUI},
		{"WriteEnvironmentStrings", "", 5200, InstallExecute},
		{"WriteIniValues", "", 5100, InstallExecute},
		{"WriteRegistryValues", "", 5000, InstallExecute},
	} {
		Actions[a.Name] = a
	}
}

// sequenceRule adds actions when the guard table has rows.
type sequenceRule struct {
	when    string
	unless  string
	actions []string
}

type sequencePlan struct {
	always []string
	rules  []sequenceRule
}

var sequencePlans = map[string]sequencePlan{
	schema.AdminExecuteSequence: {
		always: []string{"CostInitialize", "FileCost", "CostFinalize", "InstallValidate",
			"InstallInitialize", "InstallAdminPackage", "InstallFiles", "InstallFinalize"},
	},
	schema.AdminUISequence: {
		always: []string{"CostInitialize", "FileCost", "CostFinalize", "ExecuteAction"},
	},
	schema.AdvtExecuteSequence: {
		always: []string{"CostInitialize", "CostFinalize", "InstallValidate", "InstallInitialize",
			"PublishFeatures", "PublishProduct", "InstallFinalize"},
		rules: []sequenceRule{
			{when: schema.Shortcut, actions: []string{"CreateShortcuts"}},
		},
	},
	schema.InstallExecuteSequence: {
		always: []string{"ValidateProductID", "CostInitialize", "FileCost", "CostFinalize",
			"InstallValidate", "InstallInitialize", "ProcessComponents", "UnpublishFeatures",
			"RegisterUser", "RegisterProduct", "PublishFeatures", "PublishProduct", "InstallFinalize"},
		rules: []sequenceRule{
			{when: schema.Upgrade, actions: []string{"FindRelatedProducts", "MigrateFeatureStates"}},
			{when: schema.LaunchCondition, actions: []string{"LaunchConditions"}},
			{when: schema.Registry, actions: []string{"RemoveRegistryValues", "WriteRegistryValues"}},
			{when: schema.Shortcut, actions: []string{"RemoveShortcuts", "CreateShortcuts"}},
			{when: schema.File, actions: []string{"RemoveFiles", "InstallFiles"}},
			{when: schema.RemoveFile, unless: schema.File, actions: []string{"RemoveFiles"}},
			{when: schema.ServiceControl, actions: []string{"StartServices", "StopServices", "DeleteServices"}},
			{when: schema.ServiceInstall, actions: []string{"InstallServices"}},
			{when: schema.CreateFolder, actions: []string{"RemoveFolders", "CreateFolders"}},
			{when: schema.AppSearch, actions: []string{"AppSearch"}},
			{when: schema.Environment, actions: []string{"RemoveEnvironmentStrings", "WriteEnvironmentStrings"}},
		},
	},
	schema.InstallUISequence: {
		always: []string{"ValidateProductID", "CostInitialize", "FileCost", "CostFinalize", "ExecuteAction"},
		rules: []sequenceRule{
			{when: schema.Upgrade, actions: []string{"FindRelatedProducts", "MigrateFeatureStates"}},
			{when: schema.LaunchCondition, actions: []string{"LaunchConditions"}},
			{when: schema.AppSearch, actions: []string{"AppSearch"}},
		},
	},
}

// BuildSequences fills the five sequence tables. It must run after
// every other table is populated, since which actions are scheduled
// depends on which tables have rows. Rows are added in ascending
// sequence order.
func BuildSequences(db *Database) error {
	for _, name := range schema.SequenceTables {
		plan := sequencePlans[name]
		mask := maskForTable[name]

		candidates := append([]string{}, plan.always...)
		for _, r := range plan.rules {
			if db.Table(r.when).Len() == 0 {
				continue
			}
			if r.unless != "" && db.Table(r.unless).Len() > 0 {
				continue
			}
			candidates = append(candidates, r.actions...)
		}

		actions := make([]Action, 0, len(candidates))
		for _, c := range candidates {
			a, ok := Actions[c]
			if !ok {
				return errors.Errorf("unknown action %s", c)
			}
			if a.Tables&mask == 0 {
				return errors.Errorf("action %s may not appear in %s", c, name)
			}
			actions = append(actions, a)
		}
		sort.SliceStable(actions, func(i, j int) bool {
			return actions[i].Sequence < actions[j].Sequence
		})

		table := db.Table(name)
		for _, a := range actions {
			if _, err := table.Add(
				schema.Str(a.Name),
				schema.OptStr(a.Condition),
				schema.Int(a.Sequence),
			); err != nil {
				return errors.Wrapf(err, "adding %s to %s", a.Name, name)
			}
		}
	}
	return nil
}
