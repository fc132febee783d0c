//go:build darwin

package platform

import (
	"context"
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
	launchDaemonDir = "/Library/LaunchDaemons"
	pathsDir        = "/etc/paths.d"
)

type darwinProvider struct {
	logger *slog.Logger
}

func newProvider(logger *slog.Logger) Provider {
	return &darwinProvider{logger: logger}
}

func (p *darwinProvider) shortcutPath(linkName string, menu bool) string {
	if menu {
		// macOS has no applications menu; the closest equivalent is a
		// symlink in the user's Applications folder.
		return filepath.Join(xdg.Home, "Applications", linkName)
	}
	return filepath.Join(xdg.UserDirs.Desktop, linkName)
}

func (p *darwinProvider) CreateShortcut(_ context.Context, target, linkName string, menu bool) error {
	path := p.shortcutPath(linkName, menu)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating shortcut directory")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "replacing existing shortcut")
	}
	if err := os.Symlink(target, path); err != nil {
		return errors.Wrap(err, "creating shortcut symlink")
	}
	p.logger.Debug("created shortcut", "path", path)
	return nil
}

func (p *darwinProvider) RemoveShortcut(_ context.Context, linkName string, menu bool) error {
	path := p.shortcutPath(linkName, menu)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing shortcut symlink")
	}
	return nil
}

func (p *darwinProvider) plistPath(name string) string {
	return filepath.Join(launchDaemonDir, name+".plist")
}

func (p *darwinProvider) RegisterService(ctx context.Context, svc manifest.ServiceSpec, installRoot string) error {
	execPath := filepath.Join(installRoot, filepath.FromSlash(svc.Exec))
	plist := p.plistPath(svc.Name)

	if err := os.WriteFile(plist, []byte(launchdPlist(svc, execPath)), 0o644); err != nil {
		return errors.Wrap(err, "writing launchd plist")
	}
	if out, err := exec.CommandContext(ctx, "launchctl", "load", plist).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "launchctl load: %s", out)
	}
	p.logger.Debug("registered service", "plist", plist)
	return nil
}

func (p *darwinProvider) UnregisterService(ctx context.Context, name string) error {
	plist := p.plistPath(name)
	if _, err := os.Stat(plist); os.IsNotExist(err) {
		return nil
	}
	if out, err := exec.CommandContext(ctx, "launchctl", "unload", plist).CombinedOutput(); err != nil {
		p.logger.Warn("launchctl unload failed", "service", name, "output", string(out))
	}
	if err := os.Remove(plist); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing launchd plist")
	}
	return nil
}

func (p *darwinProvider) AddPathEntry(_ context.Context, dir string) error {
	entry := filepath.Join(pathsDir, pathEntryName(dir))
	if err := os.WriteFile(entry, []byte(dir+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "writing paths.d entry")
	}
	p.logger.Debug("added PATH entry", "entry", entry)
	return nil
}

func (p *darwinProvider) RemovePathEntry(_ context.Context, dir string) error {
	entry := filepath.Join(pathsDir, pathEntryName(dir))
	if err := os.Remove(entry); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing paths.d entry")
	}
	return nil
}

func (p *darwinProvider) SetPermissions(_ context.Context, path string, mode fs.FileMode) error {
	return errors.Wrap(os.Chmod(path, mode), "chmod")
}

func (p *darwinProvider) RunCommand(ctx context.Context, cmd manifest.CommandSpec, installRoot string) error {
	return runCommand(ctx, p.logger, cmd, installRoot)
}

func (p *darwinProvider) Verify(_ context.Context, spec manifest.ActionSpec, installRoot string) Verification {
	switch spec.Kind {
	case manifest.ActionCreateShortcut:
		if _, err := os.Lstat(p.shortcutPath(spec.LinkName, spec.Menu)); err == nil {
			return VerifySatisfied
		}
		return VerifyUnsatisfied
	case manifest.ActionRegisterService:
		return existsVerification(p.plistPath(spec.Service.Name))
	case manifest.ActionAddToPath:
		dir := filepath.Join(installRoot, filepath.FromSlash(spec.Path))
		return existsVerification(filepath.Join(pathsDir, pathEntryName(dir)))
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
