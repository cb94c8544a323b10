// Package manifest describes an installer: product metadata, the
// source tree to package, and the shortcuts, conditions, path entries
// and services to create. Manifests are JSON or YAML.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

type Manifest struct {
	Name         string
	UpgradeCode  string
	Version      string
	Manufacturer string

	Description string
	Comments    string
	Keywords    string
	Win64       *YesNo

	Language         Token
	Languages        Token
	Codepage         Token
	SummaryCodepage  Token
	InstallerVersion Token
	InstallScope     string
	Compressed       YesNo

	Cabinet    string
	EmbedCab   YesNo
	DiskPrompt string

	OsCondition Token       `json:"_OsCondition"`
	CheckX64    *YesNo      `json:"_CheckX64"`
	Conditions  []Condition `json:"_Conditions"`

	AppIcon string   `json:"_AppIcon"`
	Icons   []string `json:"_Icons"`

	ProgramMenuFolder string     `json:"_ProgramMenuFolder"`
	Shortcuts         []Shortcut `json:"_Shortcuts"`

	AddToPath     []string `json:"_AddToPath"`
	AddBeforePath []string `json:"_AddBeforePath"`

	SourceDir  string `json:"_SourceDir"`
	InstallDir string `json:"_InstallDir"`
	OutputName string `json:"_OutputName"`
	OutputDir  string `json:"_OutputDir"`
	SkipHidden YesNo  `json:"_SkipHidden"`

	Services []Service `json:"_Services"`
}

// Defaults returns a manifest holding every default. Parse decodes on
// top of it, so anything a manifest leaves out keeps its default.
func Defaults() *Manifest {
	return &Manifest{
		Description:      "---",
		Comments:         "-",
		Keywords:         "---",
		Language:         "1033",
		Languages:        "1033",
		Codepage:         "1252",
		SummaryCodepage:  "1252",
		InstallerVersion: "400",
		InstallScope:     "perMachine",
		Compressed:       true,
		Cabinet:          "installer.cab",
		EmbedCab:         true,
		DiskPrompt:       "CD-ROM #1",
		OsCondition:      "601",
		SkipHidden:       true,
		SourceDir:        ".",
	}
}

// Parse decodes a JSON or YAML manifest. The result is not normalized.
func Parse(data []byte) (*Manifest, error) {
	m := Defaults()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	return m, nil
}

// Load reads and parses a manifest file. Relative paths inside it stay
// relative to the working directory, as they are for the CLI.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}
	return m, nil
}

// X64 reports whether the package targets 64-bit Windows.
func (m *Manifest) X64() bool {
	return m.Win64 != nil && bool(*m.Win64)
}

// CheckArch reports whether the package carries a launch condition
// refusing to install on 32-bit Windows.
func (m *Manifest) CheckArch() bool {
	return m.CheckX64 != nil && bool(*m.CheckX64)
}

func (m *Manifest) PerMachine() bool {
	return m.InstallScope == "perMachine"
}

// ExpandPath makes p absolute, expanding a leading ~ to the home
// directory.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "finding home directory")
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", p)
	}
	return abs, nil
}
