package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/thoreinstein/capstan/internal/manifest"
)

// desktopEntry renders a freedesktop.org .desktop launcher file.
func desktopEntry(name, exec string) string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	fmt.Fprintf(&b, "Name=%s\n", name)
	fmt.Fprintf(&b, "Exec=%s\n", exec)
	b.WriteString("Terminal=false\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Categories=Utility;\n")
	b.WriteString("StartupNotify=true\n")
	return b.String()
}

// systemdUnit renders a minimal systemd service unit.
func systemdUnit(svc manifest.ServiceSpec, execPath string) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	desc := svc.Description
	if desc == "" {
		desc = svc.DisplayName
	}
	if desc == "" {
		desc = svc.Name
	}
	fmt.Fprintf(&b, "Description=%s\n\n", desc)
	b.WriteString("[Service]\n")
	cmd := execPath
	if len(svc.Args) > 0 {
		cmd += " " + strings.Join(svc.Args, " ")
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", cmd)
	b.WriteString("Restart=on-failure\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

// launchdPlist renders a launchd daemon property list.
func launchdPlist(svc manifest.ServiceSpec, execPath string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString(`<plist version="1.0">` + "\n<dict>\n")
	fmt.Fprintf(&b, "\t<key>Label</key>\n\t<string>%s</string>\n", svc.Name)
	b.WriteString("\t<key>ProgramArguments</key>\n\t<array>\n")
	fmt.Fprintf(&b, "\t\t<string>%s</string>\n", execPath)
	for _, arg := range svc.Args {
		fmt.Fprintf(&b, "\t\t<string>%s</string>\n", arg)
	}
	b.WriteString("\t</array>\n")
	b.WriteString("\t<key>RunAtLoad</key>\n\t<true/>\n")
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

// pathEntryName derives a stable file name for a PATH entry drop-in
// (profile.d on Linux, paths.d on macOS) from the directory it exports.
// Deriving from the directory keeps AddPathEntry and RemovePathEntry
// symmetric without any shared state.
func pathEntryName(dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return "capstan-" + hex.EncodeToString(sum[:4])
}
