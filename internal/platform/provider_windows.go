//go:build windows

package platform

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows/registry"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
)

type windowsProvider struct {
	logger *slog.Logger
}

func newProvider(logger *slog.Logger) Provider {
	return &windowsProvider{logger: logger}
}

func (p *windowsProvider) shortcutPath(linkName string, menu bool) (string, error) {
	base := os.Getenv("APPDATA")
	if menu {
		if base == "" {
			return "", errors.New("APPDATA is not set")
		}
		return filepath.Join(base, "Microsoft", "Windows", "Start Menu", "Programs", linkName+".lnk"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, "Desktop", linkName+".lnk"), nil
}

func (p *windowsProvider) CreateShortcut(_ context.Context, target, linkName string, menu bool) error {
	path, err := p.shortcutPath(linkName, menu)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating shortcut directory")
	}

	// Shell links have no file format we want to hand-roll; go through the
	// WScript.Shell COM object like everything else on the platform does.
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		// S_FALSE means COM was already initialized on this thread.
		if !ok || oleErr.Code() != 1 {
			return errors.Wrap(err, "initializing COM")
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WScript.Shell")
	if err != nil {
		return errors.Wrap(err, "creating WScript.Shell")
	}
	defer unknown.Release()

	shell, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return errors.Wrap(err, "querying IDispatch")
	}
	defer shell.Release()

	linkVar, err := oleutil.CallMethod(shell, "CreateShortcut", path)
	if err != nil {
		return errors.Wrap(err, "CreateShortcut")
	}
	link := linkVar.ToIDispatch()
	defer link.Release()

	if _, err := oleutil.PutProperty(link, "TargetPath", target); err != nil {
		return errors.Wrap(err, "setting TargetPath")
	}
	if _, err := oleutil.PutProperty(link, "WorkingDirectory", filepath.Dir(target)); err != nil {
		return errors.Wrap(err, "setting WorkingDirectory")
	}
	if _, err := oleutil.CallMethod(link, "Save"); err != nil {
		return errors.Wrap(err, "saving shortcut")
	}

	p.logger.Debug("created shortcut", "path", path)
	return nil
}

func (p *windowsProvider) RemoveShortcut(_ context.Context, linkName string, menu bool) error {
	path, err := p.shortcutPath(linkName, menu)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing shortcut")
	}
	return nil
}

func (p *windowsProvider) RegisterService(ctx context.Context, svc manifest.ServiceSpec, installRoot string) error {
	execPath := filepath.Join(installRoot, filepath.FromSlash(svc.Exec))
	binPath := execPath
	if len(svc.Args) > 0 {
		binPath += " " + strings.Join(svc.Args, " ")
	}

	args := []string{"create", svc.Name, "binPath=", binPath, "start=", "auto"}
	if svc.DisplayName != "" {
		args = append(args, "DisplayName=", svc.DisplayName)
	}
	if out, err := exec.CommandContext(ctx, "sc.exe", args...).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "sc create: %s", out)
	}
	if svc.Description != "" {
		if out, err := exec.CommandContext(ctx, "sc.exe", "description", svc.Name, svc.Description).CombinedOutput(); err != nil {
			p.logger.Warn("sc description failed", "service", svc.Name, "output", string(out))
		}
	}
	p.logger.Debug("registered service", "name", svc.Name)
	return nil
}

func (p *windowsProvider) UnregisterService(ctx context.Context, name string) error {
	// Stop first; a service that does not exist or is already stopped is
	// not an error for removal.
	if out, err := exec.CommandContext(ctx, "sc.exe", "stop", name).CombinedOutput(); err != nil {
		p.logger.Debug("sc stop", "service", name, "output", string(out))
	}
	out, err := exec.CommandContext(ctx, "sc.exe", "delete", name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "1060") { // service does not exist
			return nil
		}
		return errors.Wrapf(err, "sc delete: %s", out)
	}
	return nil
}

func (p *windowsProvider) AddPathEntry(_ context.Context, dir string) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, "Environment", registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "opening Environment key")
	}
	defer key.Close()

	current, _, err := key.GetStringValue("Path")
	if err != nil && err != registry.ErrNotExist {
		return errors.Wrap(err, "reading Path")
	}
	if pathContains(current, dir) {
		return nil
	}
	updated := dir
	if current != "" {
		updated = current + ";" + dir
	}
	if err := key.SetStringValue("Path", updated); err != nil {
		return errors.Wrap(err, "writing Path")
	}
	p.logger.Debug("added PATH entry", "dir", dir)
	return nil
}

func (p *windowsProvider) RemovePathEntry(_ context.Context, dir string) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, "Environment", registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "opening Environment key")
	}
	defer key.Close()

	current, _, err := key.GetStringValue("Path")
	if err == registry.ErrNotExist {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading Path")
	}

	var kept []string
	for _, entry := range strings.Split(current, ";") {
		if !strings.EqualFold(entry, dir) {
			kept = append(kept, entry)
		}
	}
	updated := strings.Join(kept, ";")
	if updated == current {
		return nil
	}
	return errors.Wrap(key.SetStringValue("Path", updated), "writing Path")
}

// SetPermissions is a no-op on Windows; unix permission bits do not map onto
// ACLs, and staged files inherit the directory's ACL.
func (p *windowsProvider) SetPermissions(_ context.Context, _ string, _ fs.FileMode) error {
	return nil
}

func (p *windowsProvider) RunCommand(ctx context.Context, cmd manifest.CommandSpec, installRoot string) error {
	return runCommand(ctx, p.logger, cmd, installRoot)
}

func (p *windowsProvider) Verify(ctx context.Context, spec manifest.ActionSpec, installRoot string) Verification {
	switch spec.Kind {
	case manifest.ActionCreateShortcut:
		path, err := p.shortcutPath(spec.LinkName, spec.Menu)
		if err != nil {
			return VerifyUnknown
		}
		return existsVerification(path)
	case manifest.ActionRegisterService:
		if out, err := exec.CommandContext(ctx, "sc.exe", "query", spec.Service.Name).CombinedOutput(); err != nil {
			if strings.Contains(string(out), "1060") {
				return VerifyUnsatisfied
			}
			return VerifyUnknown
		}
		return VerifySatisfied
	case manifest.ActionAddToPath:
		key, err := registry.OpenKey(registry.CURRENT_USER, "Environment", registry.QUERY_VALUE)
		if err != nil {
			return VerifyUnknown
		}
		defer key.Close()
		current, _, err := key.GetStringValue("Path")
		if err != nil {
			return VerifyUnsatisfied
		}
		dir := filepath.Join(installRoot, filepath.FromSlash(spec.Path))
		if pathContains(current, dir) {
			return VerifySatisfied
		}
		return VerifyUnsatisfied
	case manifest.ActionCreateDirectory:
		return existsVerification(filepath.Join(installRoot, filepath.FromSlash(spec.Path)))
	case manifest.ActionSetPermissions:
		return VerifySatisfied // no-op forward, nothing to check
	default:
		return VerifyUnknown
	}
}

func pathContains(pathValue, dir string) bool {
	for _, entry := range strings.Split(pathValue, ";") {
		if strings.EqualFold(entry, dir) {
			return true
		}
	}
	return false
}

func existsVerification(path string) Verification {
	if _, err := os.Stat(path); err == nil {
		return VerifySatisfied
	}
	return VerifyUnsatisfied
}
