package msi

import (
	"testing"

	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/stretchr/testify/require"
)

func actionNames(t *testing.T, db *Database, table string) []string {
	var names []string
	last := -1
	for _, r := range db.Table(table).Rows() {
		require.Greater(t, r[2].AsInt(), last, "%s not in ascending order", table)
		last = r[2].AsInt()
		names = append(names, r[0].AsString())
	}
	return names
}

func TestBuildSequencesMinimal(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	require.NoError(t, BuildSequences(db))

	require.Equal(t, []string{
		"CostInitialize", "FileCost", "CostFinalize", "InstallValidate",
		"InstallInitialize", "InstallAdminPackage", "InstallFiles", "InstallFinalize",
	}, actionNames(t, db, schema.AdminExecuteSequence))

	require.Equal(t, []string{
		"CostInitialize", "FileCost", "CostFinalize", "ExecuteAction",
	}, actionNames(t, db, schema.AdminUISequence))

	require.Equal(t, []string{
		"CostInitialize", "CostFinalize", "InstallValidate", "InstallInitialize",
		"PublishFeatures", "PublishProduct", "InstallFinalize",
	}, actionNames(t, db, schema.AdvtExecuteSequence))

	require.Equal(t, []string{
		"ValidateProductID", "CostInitialize", "FileCost", "CostFinalize",
		"InstallValidate", "InstallInitialize", "ProcessComponents", "UnpublishFeatures",
		"RegisterUser", "RegisterProduct", "PublishFeatures", "PublishProduct", "InstallFinalize",
	}, actionNames(t, db, schema.InstallExecuteSequence))

	require.Equal(t, []string{
		"ValidateProductID", "CostInitialize", "FileCost", "CostFinalize", "ExecuteAction",
	}, actionNames(t, db, schema.InstallUISequence))
}

func TestBuildSequencesShortcuts(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	_, err := db.Add(schema.Shortcut,
		schema.Str("sc1"), schema.Str("mnu1"), schema.Str("App"), schema.Str("cmp1"), schema.Str("[#fil1]"),
		schema.Null(), schema.Null(), schema.Null(), schema.Null(), schema.Null(), schema.Null(),
		schema.Null(), schema.Null(), schema.Null(), schema.Null(), schema.Null())
	require.NoError(t, err)
	require.NoError(t, BuildSequences(db))

	advt := actionNames(t, db, schema.AdvtExecuteSequence)
	require.Contains(t, advt, "CreateShortcuts")

	install := actionNames(t, db, schema.InstallExecuteSequence)
	remove, create := -1, -1
	for i, n := range install {
		switch n {
		case "RemoveShortcuts":
			remove = i
		case "CreateShortcuts":
			create = i
		}
	}
	require.NotEqual(t, -1, remove)
	require.NotEqual(t, -1, create)
	require.Less(t, remove, create)
}

func TestBuildSequencesConditional(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	_, err := db.Add(schema.RemoveFile, schema.Str("rf1"), schema.Str("cmp1"), schema.Null(), schema.Str("mnu1"), schema.Int(2))
	require.NoError(t, err)
	_, err = db.Add(schema.LaunchCondition, schema.Str("VersionNT64"), schema.Str("64 bit only"))
	require.NoError(t, err)
	_, err = db.Add(schema.Environment, schema.Str("env1"), schema.Str("=-*PATH"), schema.Str("[~];[INSTALLDIR]bin"), schema.Str("cmp1"))
	require.NoError(t, err)
	require.NoError(t, BuildSequences(db))

	install := actionNames(t, db, schema.InstallExecuteSequence)
	require.Contains(t, install, "RemoveFiles")
	require.NotContains(t, install, "InstallFiles")
	require.Contains(t, install, "LaunchConditions")
	require.Contains(t, install, "RemoveEnvironmentStrings")
	require.Contains(t, install, "WriteEnvironmentStrings")
	require.NotContains(t, install, "CreateShortcuts")

	ui := actionNames(t, db, schema.InstallUISequence)
	require.Contains(t, ui, "LaunchConditions")
	require.NotContains(t, ui, "AppSearch")
}

func TestBuildSequencesConditions(t *testing.T) {
	t.Parallel()

	db := NewDatabase()
	_, err := db.Add(schema.ServiceControl, schema.Str("sc"), schema.Str("svc"), schema.Int(ServiceInstallStart), schema.Null(), schema.Int(1), schema.Str("cmp"))
	require.NoError(t, err)
	require.NoError(t, BuildSequences(db))

	for _, r := range db.Table(schema.InstallExecuteSequence).Rows() {
		switch r[0].AsString() {
		case "StartServices", "StopServices", "DeleteServices":
			require.Equal(t, "VersionNT", r[1].AsString())
		case "InstallFinalize":
			require.True(t, r[1].IsNull())
		}
	}
}

func TestActionMasks(t *testing.T) {
	t.Parallel()

	for name, plan := range sequencePlans {
		mask := maskForTable[name]
		all := append([]string{}, plan.always...)
		for _, r := range plan.rules {
			all = append(all, r.actions...)
		}
		for _, a := range all {
			action, ok := Actions[a]
			require.True(t, ok, a)
			require.NotZero(t, action.Tables&mask, "%s in %s", a, name)
		}
	}
}
