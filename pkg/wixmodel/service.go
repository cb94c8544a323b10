package wixmodel

import (
	"fmt"
	"path"
	"strings"

	"github.com/kolide/msikit/pkg/manifest"
	"github.com/kolide/msikit/pkg/msi"
	"github.com/pkg/errors"
	"github.com/serenize/snaker"
)

// http://wixtoolset.org/documentation/manual/v3/xsd/wix/serviceinstall.html
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/servicecontrol.html

const (
	startAuto     = "auto"
	startDemand   = "demand"
	startDisabled = "disabled"

	controlInstall   = "install"
	controlUninstall = "uninstall"
	controlBoth      = "both"
)

// newService returns the ServiceInstall and ServiceControl elements for
// a declared service. Both share the service's cleaned name as id.
func newService(s manifest.Service) (*ServiceInstall, *ServiceControl) {
	// If a service name is not specified, replace the .exe with a svc,
	// and CamelCase it. (eg: daemon.exe becomes DaemonSvc)
	name := cleanServiceName(strings.TrimSuffix(path.Base(s.File), ".exe") + ".svc")
	if s.Name != "" {
		name = cleanServiceName(s.Name)
	}

	si := &ServiceInstall{
		Node:         Node{ID: name},
		Name:         name,
		DisplayName:  s.DisplayName,
		Description:  s.Description,
		Arguments:    serviceArgs(s.Arguments),
		Type:         "ownProcess",
		Start:        startAuto,
		ErrorControl: "normal",
		Vital:        true,
	}

	sc := &ServiceControl{
		Node:   Node{ID: name},
		Name:   name,
		Start:  controlInstall,
		Stop:   controlBoth,
		Remove: controlUninstall,
		Wait:   false,
	}

	switch s.Start {
	case startDemand:
		si.Start = startDemand
	case startDisabled:
		si.Start = startDisabled
		// A disabled service must not be started, or the install
		// hangs waiting for it.
		sc.Start = ""
	}

	return si, sc
}

// serviceArgs joins args with spaces, quoting the ones that contain
// spaces.
func serviceArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " ") {
			quoted[i] = fmt.Sprintf(`"%s"`, arg)
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}

// cleanServiceName removes characters windows doesn't like in
// services names, and converts everything to camel case. Right now,
// it only removes likely bad characters. It is not as complete as an
// allowlist.
func cleanServiceName(in string) string {
	r := strings.NewReplacer(
		"-", "_",
		" ", "_",
		".", "_",
		"/", "_",
		"\\", "_",
	)

	return snaker.SnakeToCamel(r.Replace(in))
}

// matchService finds the one packaged file a service runs. A file
// matches when its path relative to the source dir equals the
// service's File or ends with it.
func matchService(s manifest.Service, files []*File) (*File, error) {
	want := strings.TrimPrefix(strings.ReplaceAll(s.File, `\`, "/"), "/")

	var matches []*File
	for _, f := range files {
		if f.rel == want || strings.HasSuffix(f.rel, "/"+want) {
			matches = append(matches, f)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, errors.Wrapf(msi.ErrUnresolvedReference, "service file %s is not in the source tree", s.File)
	default:
		return nil, errors.Wrapf(msi.ErrUnresolvedReference, "service file %s matches %d files, expected 1", s.File, len(matches))
	}
}

// serviceEvents is the ServiceControl.Event bitmask.
func serviceEvents(sc *ServiceControl) int {
	var events int
	for _, ev := range []struct {
		when    string
		install int
		remove  int
	}{
		{sc.Start, msi.ServiceInstallStart, msi.ServiceUninstallStart},
		{sc.Stop, msi.ServiceInstallStop, msi.ServiceUninstallStop},
		{sc.Remove, msi.ServiceInstallDelete, msi.ServiceUninstallDelete},
	} {
		switch ev.when {
		case controlInstall:
			events |= ev.install
		case controlUninstall:
			events |= ev.remove
		case controlBoth:
			events |= ev.install | ev.remove
		}
	}
	return events
}

func serviceStartType(start string) int {
	switch start {
	case startDemand:
		return msi.ServiceDemandStart
	case startDisabled:
		return msi.ServiceDisabled
	default:
		return msi.ServiceAutoStart
	}
}
