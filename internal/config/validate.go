package config

import (
	goversion "github.com/hashicorp/go-version"

	"github.com/thoreinstein/capstan/internal/errors"
)

// Validate checks the configuration's structural requirements. Manifest-level
// invariants (path shape, component cycles) are enforced again when the
// package is built.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "project.name is required")
	}
	if c.Project.Version == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "project.version is required")
	}
	if _, err := goversion.NewVersion(c.Project.Version); err != nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "project.version %q: %v", c.Project.Version, err)
	}

	for goos := range c.Platform {
		switch goos {
		case "linux", "darwin", "windows":
		default:
			return errors.Wrapf(errors.ErrInvalidConfig, "unknown platform %q", goos)
		}
	}

	seen := map[string]bool{}
	for _, comp := range c.Components {
		if comp.Name == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "component with empty name")
		}
		if comp.Path == "" {
			return errors.Wrapf(errors.ErrInvalidConfig, "component %q has no path", comp.Name)
		}
		if seen[comp.Name] {
			return errors.Wrapf(errors.ErrInvalidConfig, "duplicate component %q", comp.Name)
		}
		seen[comp.Name] = true
	}
	for _, comp := range c.Components {
		for _, dep := range comp.DependsOn {
			if !seen[dep] {
				return errors.Wrapf(errors.ErrInvalidConfig,
					"component %q depends on unknown component %q", comp.Name, dep)
			}
		}
	}

	for _, svc := range c.Services {
		if svc.Name == "" || svc.Exec == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "services require name and exec")
		}
	}

	for _, cmd := range c.Commands {
		if cmd.Program == "" {
			return errors.Wrapf(errors.ErrInvalidConfig, "command %q has no program", cmd.Name)
		}
		switch cmd.Phase {
		case "", "pre", "post":
		default:
			return errors.Wrapf(errors.ErrInvalidConfig,
				"command %q: phase must be pre or post, got %q", cmd.Name, cmd.Phase)
		}
	}

	if c.Install.CreateShortcut && c.Install.ShortcutTarget == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "create_shortcut requires shortcut_target")
	}

	return nil
}
