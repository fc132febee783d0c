package config

import (
	"runtime"

	"github.com/thoreinstein/capstan/internal/manifest"
)

// ManifestSkeleton translates the config into the manifest the packager
// embeds: components plus the ordered platform actions derived from the
// options for the given GOOS. File entries are filled in by the packager.
//
// Action order: pre commands, shortcut, PATH entry, services, post commands.
func (c *Config) ManifestSkeleton(goos string) *manifest.Manifest {
	if goos == "" {
		goos = runtime.GOOS
	}
	opts := c.OptionsFor(goos)

	m := &manifest.Manifest{
		Product:     c.Project.Name,
		Version:     c.Project.Version,
		Description: c.Project.Description,
	}
	for _, comp := range c.Components {
		m.Components = append(m.Components, manifest.Component{
			Name:      comp.Name,
			DependsOn: comp.DependsOn,
		})
	}

	appendCommands := func(phase string) {
		for _, cmd := range c.Commands {
			p := cmd.Phase
			if p == "" {
				p = "post"
			}
			if p != phase {
				continue
			}
			m.Actions = append(m.Actions, manifest.ActionSpec{
				Kind: manifest.ActionRunCommand,
				Command: &manifest.CommandSpec{
					Name:            cmd.Name,
					Program:         cmd.Program,
					Args:            cmd.Args,
					WorkDir:         cmd.WorkDir,
					Background:      cmd.Background,
					RollbackProgram: cmd.RollbackProgram,
					RollbackArgs:    cmd.RollbackArgs,
				},
			})
		}
	}

	appendCommands("pre")

	if opts.CreateShortcut {
		name := opts.ShortcutName
		if name == "" {
			name = c.Project.Name
		}
		m.Actions = append(m.Actions, manifest.ActionSpec{
			Kind:     manifest.ActionCreateShortcut,
			Path:     opts.ShortcutTarget,
			LinkName: name,
			Menu:     opts.MenuShortcut,
		})
	}
	if opts.AddToPath {
		m.Actions = append(m.Actions, manifest.ActionSpec{
			Kind: manifest.ActionAddToPath,
			Path: opts.PathDir,
		})
	}
	for _, svc := range c.Services {
		m.Actions = append(m.Actions, manifest.ActionSpec{
			Kind: manifest.ActionRegisterService,
			Service: &manifest.ServiceSpec{
				Name:        svc.Name,
				DisplayName: svc.DisplayName,
				Description: svc.Description,
				Exec:        svc.Exec,
				Args:        svc.Args,
			},
		})
	}

	appendCommands("post")

	return m
}

// PrefixMap returns the component path prefixes for the packager's
// component matcher.
func (c *Config) PrefixMap() map[string]string {
	out := make(map[string]string, len(c.Components))
	for _, comp := range c.Components {
		out[comp.Path] = comp.Name
	}
	return out
}
