package engine

import (
	"encoding/json"
	"io/fs"
	"strconv"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/reconcile"
	"github.com/thoreinstein/capstan/internal/txlog"
)

// kindCreateFile is the log record kind for a staged manifest file. Platform
// actions are logged under their manifest.ActionKind string.
const kindCreateFile = "create_file"

// Parameter keys used in log records. Reverse parameter bags are
// self-contained: uninstall reconstructs every undo operation from the log
// alone, without the package or its manifest.
const (
	paramPath     = "path"
	paramSHA256   = "sha256"
	paramTarget   = "target"
	paramLinkName = "link_name"
	paramMenu     = "menu"
	paramDir      = "dir"
	paramName     = "name"
	paramService  = "service"
	paramCommand  = "command"
	paramMode     = "mode"
)

// fileParams builds the forward and reverse parameter bags for a staged file.
func fileParams(f manifest.FileEntry) (forward, reverse txlog.Params) {
	forward = txlog.Params{paramPath: f.Path, paramSHA256: f.SHA256}
	reverse = txlog.Params{paramPath: f.Path}
	return forward, reverse
}

// dirParams builds the parameter bags for a created directory. The reverse
// operation removes the directory only when empty.
func dirParams(relPath string) (forward, reverse txlog.Params) {
	forward = txlog.Params{paramPath: relPath}
	reverse = txlog.Params{paramPath: relPath}
	return forward, reverse
}

// actionParams builds the parameter bags for one manifest platform action.
// index is the action's position in the manifest, recorded so repair can
// match log records back to manifest actions. prevMode carries the mode
// captured before a set_permissions change.
func actionParams(spec manifest.ActionSpec, index int, prevMode fs.FileMode) (forward, reverse txlog.Params, err error) {
	forward = txlog.Params{reconcile.ActionIndexKey: strconv.Itoa(index)}
	reverse = txlog.Params{}

	switch spec.Kind {
	case manifest.ActionCreateDirectory:
		forward[paramPath] = spec.Path
		reverse[paramPath] = spec.Path

	case manifest.ActionCreateShortcut:
		forward[paramTarget] = spec.Path
		forward[paramLinkName] = spec.LinkName
		forward[paramMenu] = strconv.FormatBool(spec.Menu)
		reverse[paramLinkName] = spec.LinkName
		reverse[paramMenu] = strconv.FormatBool(spec.Menu)

	case manifest.ActionRegisterService:
		data, merr := json.Marshal(spec.Service)
		if merr != nil {
			return nil, nil, errors.Wrap(merr, "encoding service spec")
		}
		forward[paramName] = spec.Service.Name
		forward[paramService] = string(data)
		reverse[paramName] = spec.Service.Name

	case manifest.ActionAddToPath:
		forward[paramDir] = spec.Path
		reverse[paramDir] = spec.Path

	case manifest.ActionSetPermissions:
		forward[paramPath] = spec.Path
		forward[paramMode] = strconv.FormatUint(uint64(spec.Mode), 8)
		reverse[paramPath] = spec.Path
		reverse[paramMode] = strconv.FormatUint(uint64(prevMode.Perm()), 8)

	case manifest.ActionRunCommand:
		data, merr := json.Marshal(spec.Command)
		if merr != nil {
			return nil, nil, errors.Wrap(merr, "encoding command spec")
		}
		forward[paramName] = spec.Command.Name
		forward[paramCommand] = string(data)
		// run_command has no generic reverse. A rollback command is an
		// explicit per-command configuration choice; without one the
		// reverse is a no-op.
		if spec.Command.RollbackProgram != "" {
			undo, merr := json.Marshal(manifest.CommandSpec{
				Name:    spec.Command.Name + " (rollback)",
				Program: spec.Command.RollbackProgram,
				Args:    spec.Command.RollbackArgs,
				WorkDir: spec.Command.WorkDir,
			})
			if merr != nil {
				return nil, nil, errors.Wrap(merr, "encoding rollback command spec")
			}
			reverse[paramCommand] = string(undo)
		}

	default:
		return nil, nil, errors.Newf("unknown action kind %q", spec.Kind)
	}

	return forward, reverse, nil
}

func parseMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing mode %q", s)
	}
	return fs.FileMode(n), nil
}
