package manifest

import (
	"strings"

	"github.com/Masterminds/semver"
	"github.com/google/uuid"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/pkg/errors"
)

// Normalize validates the manifest and rewrites it into the form the
// model builder expects: paths are absolute, the upgrade code is a
// canonical uppercase GUID, _CheckX64 follows Win64 when Win64 is
// given, and _InstallDir defaults to the product name. Every failure
// wraps msi.ErrInvalidModel.
func Normalize(m *Manifest) error {
	required := []struct{ field, value string }{
		{"Name", m.Name},
		{"UpgradeCode", m.UpgradeCode},
		{"Version", m.Version},
		{"Manufacturer", m.Manufacturer},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.Wrapf(msi.ErrInvalidModel, "manifest is missing %s", r.field)
		}
	}

	code, err := uuid.Parse(m.UpgradeCode)
	if err != nil {
		return errors.Wrapf(msi.ErrInvalidModel, "UpgradeCode %q is not a GUID", m.UpgradeCode)
	}
	m.UpgradeCode = strings.ToUpper(code.String())

	if err := checkVersion(m.Version); err != nil {
		return err
	}

	if m.Win64 != nil {
		check := *m.Win64
		m.CheckX64 = &check
	}

	switch m.InstallScope {
	case "perMachine", "perUser":
	default:
		return errors.Wrapf(msi.ErrInvalidModel, "InstallScope must be perMachine or perUser, not %q", m.InstallScope)
	}

	for field, cp := range map[string]Token{"Codepage": m.Codepage, "SummaryCodepage": m.SummaryCodepage} {
		n, err := cp.Int()
		if err != nil {
			return errors.Wrapf(msi.ErrInvalidModel, "%s: %v", field, err)
		}
		if !msi.SupportedCodepage(n) {
			return errors.Wrapf(msi.ErrInvalidModel, "%s %d is not supported", field, n)
		}
	}

	for field, tok := range map[string]Token{"Language": m.Language, "InstallerVersion": m.InstallerVersion} {
		if _, err := tok.Int(); err != nil {
			return errors.Wrapf(msi.ErrInvalidModel, "%s: %v", field, err)
		}
	}
	for _, lang := range strings.Split(string(m.Languages), ",") {
		if _, err := Token(strings.TrimSpace(lang)).Int(); err != nil {
			return errors.Wrapf(msi.ErrInvalidModel, "Languages: %v", err)
		}
	}

	for i, c := range m.Conditions {
		if c.Message == "" || c.Expression == "" {
			return errors.Wrapf(msi.ErrInvalidModel, "condition %d needs a message and an expression", i)
		}
		if c.Level != "" {
			if _, err := c.Level.Int(); err != nil {
				return errors.Wrapf(msi.ErrInvalidModel, "condition %d level: %v", i, err)
			}
		}
	}

	for i, s := range m.Shortcuts {
		if s.Name == "" || s.Target == "" {
			return errors.Wrapf(msi.ErrInvalidModel, "shortcut %d needs a Name and a Target", i)
		}
		for _, a := range s.Open {
			if !strings.HasPrefix(a.Extension, ".") {
				return errors.Wrapf(msi.ErrInvalidModel, "shortcut %s: extension %q must start with a dot", s.Name, a.Extension)
			}
		}
	}

	for i, s := range m.Services {
		if s.File == "" {
			return errors.Wrapf(msi.ErrInvalidModel, "service %d needs a File", i)
		}
		switch s.Start {
		case "", "auto", "demand", "disabled":
		default:
			return errors.Wrapf(msi.ErrInvalidModel, "service %s: unknown start type %q", s.File, s.Start)
		}
	}

	if m.InstallDir == "" {
		m.InstallDir = m.Name
	}
	if m.Cabinet == "" {
		return errors.Wrap(msi.ErrInvalidModel, "Cabinet name is empty")
	}

	if m.SourceDir, err = ExpandPath(m.SourceDir); err != nil {
		return err
	}
	if m.OutputDir != "" {
		if m.OutputDir, err = ExpandPath(m.OutputDir); err != nil {
			return err
		}
	}
	if m.AppIcon != "" {
		if m.AppIcon, err = ExpandPath(m.AppIcon); err != nil {
			return err
		}
	}
	for i := range m.Icons {
		if m.Icons[i], err = ExpandPath(m.Icons[i]); err != nil {
			return err
		}
	}

	return nil
}

// checkVersion accepts versions Windows Installer can compare:
// major.minor.build with major and minor below 256 and build below
// 65536. A fourth field is allowed and ignored, as msiexec does.
func checkVersion(v string) error {
	parts := strings.Split(v, ".")
	if len(parts) == 4 {
		v = strings.Join(parts[:3], ".")
	}

	sv, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(msi.ErrInvalidModel, "Version %q: %v", v, err)
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" || strings.HasPrefix(v, "v") {
		return errors.Wrapf(msi.ErrInvalidModel, "Version %q must be purely numeric", v)
	}
	if sv.Major() > 255 || sv.Minor() > 255 || sv.Patch() > 65535 {
		return errors.Wrapf(msi.ErrInvalidModel, "Version %q is out of range for an installer", v)
	}
	return nil
}
