//go:build linux

package platform

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
)

const (
	systemdUnitDir = "/etc/systemd/system"
	profileDir     = "/etc/profile.d"
)

type linuxProvider struct {
	logger *slog.Logger
}

func newProvider(logger *slog.Logger) Provider {
	return &linuxProvider{logger: logger}
}

func (p *linuxProvider) shortcutPath(linkName string, menu bool) string {
	if menu {
		return filepath.Join(xdg.DataHome, "applications", linkName+".desktop")
	}
	return filepath.Join(xdg.UserDirs.Desktop, linkName+".desktop")
}

func (p *linuxProvider) CreateShortcut(_ context.Context, target, linkName string, menu bool) error {
	path := p.shortcutPath(linkName, menu)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating shortcut directory")
	}
	// Overwrites an existing shortcut; creation is idempotent.
	if err := os.WriteFile(path, []byte(desktopEntry(linkName, target)), 0o755); err != nil {
		return errors.Wrap(err, "writing desktop entry")
	}
	p.logger.Debug("created shortcut", "path", path)
	return nil
}

func (p *linuxProvider) RemoveShortcut(_ context.Context, linkName string, menu bool) error {
	path := p.shortcutPath(linkName, menu)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing desktop entry")
	}
	return nil
}

func (p *linuxProvider) RegisterService(ctx context.Context, svc manifest.ServiceSpec, installRoot string) error {
	execPath := filepath.Join(installRoot, filepath.FromSlash(svc.Exec))
	unitPath := filepath.Join(systemdUnitDir, svc.Name+".service")

	if err := os.WriteFile(unitPath, []byte(systemdUnit(svc, execPath)), 0o644); err != nil {
		return errors.Wrap(err, "writing systemd unit")
	}
	if out, err := exec.CommandContext(ctx, "systemctl", "daemon-reload").CombinedOutput(); err != nil {
		return errors.Wrapf(err, "systemctl daemon-reload: %s", out)
	}
	if out, err := exec.CommandContext(ctx, "systemctl", "enable", svc.Name).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "systemctl enable: %s", out)
	}
	p.logger.Debug("registered service", "unit", unitPath)
	return nil
}

func (p *linuxProvider) UnregisterService(ctx context.Context, name string) error {
	unitPath := filepath.Join(systemdUnitDir, name+".service")
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return nil
	}
	// Disable before removing the unit; a service unknown to systemd is
	// not an error here.
	if out, err := exec.CommandContext(ctx, "systemctl", "disable", "--now", name).CombinedOutput(); err != nil {
		p.logger.Warn("systemctl disable failed", "service", name, "output", string(out))
	}
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing systemd unit")
	}
	if out, err := exec.CommandContext(ctx, "systemctl", "daemon-reload").CombinedOutput(); err != nil {
		return errors.Wrapf(err, "systemctl daemon-reload: %s", out)
	}
	return nil
}

func (p *linuxProvider) AddPathEntry(_ context.Context, dir string) error {
	script := filepath.Join(profileDir, pathEntryName(dir)+".sh")
	content := fmt.Sprintf("export PATH=\"$PATH:%s\"\n", dir)
	if err := os.WriteFile(script, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "writing profile.d entry")
	}
	p.logger.Debug("added PATH entry", "script", script)
	return nil
}

func (p *linuxProvider) RemovePathEntry(_ context.Context, dir string) error {
	script := filepath.Join(profileDir, pathEntryName(dir)+".sh")
	if err := os.Remove(script); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing profile.d entry")
	}
	return nil
}

func (p *linuxProvider) SetPermissions(_ context.Context, path string, mode fs.FileMode) error {
	return errors.Wrap(os.Chmod(path, mode), "chmod")
}

func (p *linuxProvider) RunCommand(ctx context.Context, cmd manifest.CommandSpec, installRoot string) error {
	return runCommand(ctx, p.logger, cmd, installRoot)
}

func (p *linuxProvider) Verify(_ context.Context, spec manifest.ActionSpec, installRoot string) Verification {
	switch spec.Kind {
	case manifest.ActionCreateShortcut:
		return existsVerification(p.shortcutPath(spec.LinkName, spec.Menu))
	case manifest.ActionRegisterService:
		return existsVerification(filepath.Join(systemdUnitDir, spec.Service.Name+".service"))
	case manifest.ActionAddToPath:
		dir := filepath.Join(installRoot, filepath.FromSlash(spec.Path))
		return existsVerification(filepath.Join(profileDir, pathEntryName(dir)+".sh"))
	case manifest.ActionCreateDirectory:
		return existsVerification(filepath.Join(installRoot, filepath.FromSlash(spec.Path)))
	case manifest.ActionSetPermissions:
		info, err := os.Stat(filepath.Join(installRoot, filepath.FromSlash(spec.Path)))
		if err != nil {
			return VerifyUnsatisfied
		}
		if info.Mode().Perm() == fs.FileMode(spec.Mode).Perm() {
			return VerifySatisfied
		}
		return VerifyUnsatisfied
	default:
		return VerifyUnknown
	}
}

func existsVerification(path string) Verification {
	if _, err := os.Stat(path); err == nil {
		return VerifySatisfied
	}
	return VerifyUnsatisfied
}
