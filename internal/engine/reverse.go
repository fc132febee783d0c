package engine

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/txlog"
)

// rollbackRun undoes the current run's committed actions in reverse
// chronological order: last installed, first removed. Actions whose ids
// appear in priorIDs belong to an earlier run and are left alone, so a
// failed repair never tears down the installation it was fixing. Rollback is
// never cancelled and a failed reverse never stops the remaining ones; every
// action that could not be reversed is collected and surfaced verbatim.
func (e *Engine) rollbackRun(log *txlog.Log, root string, priorIDs map[string]bool) []ActionOutcome {
	ctx := context.Background()

	var unreversed []ActionOutcome
	for _, rec := range log.IterReverse() {
		if priorIDs[rec.ActionID] {
			continue
		}
		if err := e.reverseAction(ctx, rec, root); err != nil {
			e.logger.Error("reverse operation failed",
				"id", rec.ActionID, "kind", rec.Kind, "error", err)
			unreversed = append(unreversed, ActionOutcome{
				ID:     rec.ActionID,
				Kind:   rec.Kind,
				Status: rec.Status,
				Reason: err.Error(),
			})
			continue
		}
		if err := log.MarkRolledBack(rec.ActionID); err != nil {
			e.logger.Error("recording rollback failed", "id", rec.ActionID, "error", err)
		}
	}
	return unreversed
}

// reverseAction undoes one logged action from its reverse parameter bag
// alone. A missing target is success, not error: uninstall and rollback must
// be idempotent against files and shortcuts the user already removed.
func (e *Engine) reverseAction(ctx context.Context, rec txlog.Record, root string) error {
	switch rec.Kind {
	case kindCreateFile:
		path := filepath.Join(root, filepath.FromSlash(rec.Reverse[paramPath]))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	case string(manifest.ActionCreateDirectory):
		return e.reverseDirectory(rec, root)

	case string(manifest.ActionCreateShortcut):
		menu, _ := strconv.ParseBool(rec.Reverse[paramMenu])
		if err := e.provider.RemoveShortcut(ctx, rec.Reverse[paramLinkName], menu); err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	case string(manifest.ActionRegisterService):
		if err := e.provider.UnregisterService(ctx, rec.Reverse[paramName]); err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	case string(manifest.ActionAddToPath):
		dir := root
		if rel := rec.Reverse[paramDir]; rel != "" {
			dir = filepath.Join(root, filepath.FromSlash(rel))
		}
		if err := e.provider.RemovePathEntry(ctx, dir); err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	case string(manifest.ActionSetPermissions):
		path := filepath.Join(root, filepath.FromSlash(rec.Reverse[paramPath]))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
		mode, err := parseMode(rec.Reverse[paramMode])
		if err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		if err := e.provider.SetPermissions(ctx, path, mode); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	case string(manifest.ActionRunCommand):
		raw, ok := rec.Reverse[paramCommand]
		if !ok {
			// No configured rollback command; the reverse is a no-op.
			return nil
		}
		var cmd manifest.CommandSpec
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		if err := e.provider.RunCommand(ctx, cmd, root); err != nil {
			return errors.NewReverseActionError(rec.Kind, err)
		}
		return nil

	default:
		return errors.NewReverseActionError(rec.Kind, errors.Newf("unknown action kind"))
	}
}

// reverseDirectory removes a logged directory only when it is empty. A
// directory holding files the user added later stays; uninstall removes
// exactly what install added.
func (e *Engine) reverseDirectory(rec txlog.Record, root string) error {
	path := filepath.Join(root, filepath.FromSlash(rec.Reverse[paramPath]))
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewReverseActionError(rec.Kind, err)
	}
	if len(entries) > 0 {
		e.logger.Debug("directory not empty, keeping", "path", path)
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewReverseActionError(rec.Kind, err)
	}
	return nil
}
