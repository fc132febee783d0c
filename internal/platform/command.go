package platform

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thoreinstein/capstan/internal/manifest"
)

// runCommand is the RunCommand implementation shared by all providers.
func runCommand(ctx context.Context, logger *slog.Logger, spec manifest.CommandSpec, installRoot string) error {
	program := spec.Program
	// Programs referenced by relative path resolve against the install
	// root; bare names go through PATH lookup as usual.
	if !filepath.IsAbs(program) && strings.ContainsAny(program, `/\`) {
		program = filepath.Join(installRoot, filepath.FromSlash(program))
	}

	dir := installRoot
	if spec.WorkDir != "" {
		dir = filepath.Join(installRoot, filepath.FromSlash(spec.WorkDir))
	}

	if spec.Background {
		// Deliberately not bound to ctx: the engine records the launch and
		// is not responsible for the process's runtime lifetime.
		cmd := exec.Command(program, spec.Args...)
		cmd.Dir = dir
		if err := cmd.Start(); err != nil {
			return err
		}
		logger.Info("launched background command", "name", spec.Name, "pid", cmd.Process.Pid)
		return cmd.Process.Release()
	}

	cmd := exec.CommandContext(ctx, program, spec.Args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Error("command failed", "name", spec.Name, "output", strings.TrimSpace(string(out)))
		return err
	}
	logger.Debug("command completed", "name", spec.Name)
	return nil
}
