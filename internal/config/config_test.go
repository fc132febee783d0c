package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "install.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[project]
name = "seatide"
version = "1.4.0"
description = "tide prediction toolkit"

[install]
create_shortcut = true
shortcut_name = "SeaTide"
shortcut_target = "bin/seatide"
add_to_path = true
path_dir = "bin"

[platform.windows]
install_dir = 'C:\SeaTide'
add_to_path = false

[[components]]
name = "core"
path = "lib"

[[components]]
name = "app"
path = "bin"
depends_on = ["core"]

[[services]]
name = "seatide-agent"
exec = "bin/seatide-agent"
args = ["--daemon"]

[[commands]]
name = "migrate"
program = "bin/seatide"
args = ["migrate"]
phase = "post"

[preflight]
min_memory_mb = 512
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Project.Name != "seatide" {
		t.Errorf("name = %q", cfg.Project.Name)
	}
	if len(cfg.Components) != 2 || cfg.Components[1].DependsOn[0] != "core" {
		t.Errorf("components not loaded: %+v", cfg.Components)
	}
	if cfg.Preflight.MinMemoryMB != 512 {
		t.Errorf("min_memory_mb = %d", cfg.Preflight.MinMemoryMB)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Project.Name = "" }},
		{"missing version", func(c *Config) { c.Project.Version = "" }},
		{"garbage version", func(c *Config) { c.Project.Version = "not a version" }},
		{"unknown platform", func(c *Config) { c.Platform = map[string]Override{"plan9": {}} }},
		{"duplicate component", func(c *Config) {
			c.Components = append(c.Components, Component{Name: "core", Path: "x"})
		}},
		{"unknown dependency", func(c *Config) {
			c.Components = []Component{{Name: "a", Path: "a", DependsOn: []string{"ghost"}}}
		}},
		{"command without program", func(c *Config) { c.Commands = []Command{{Name: "x"}} }},
		{"bad phase", func(c *Config) {
			c.Commands = []Command{{Name: "x", Program: "y", Phase: "during"}}
		}},
		{"shortcut without target", func(c *Config) {
			c.Install.CreateShortcut = true
			c.Install.ShortcutTarget = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOptionsFor_PlatformOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	linux := cfg.OptionsFor("linux")
	if !linux.AddToPath {
		t.Error("linux should inherit global add_to_path")
	}

	windows := cfg.OptionsFor("windows")
	if windows.AddToPath {
		t.Error("windows override should disable add_to_path")
	}
	if windows.InstallDir != `C:\SeaTide` {
		t.Errorf("windows install_dir = %q", windows.InstallDir)
	}
	// Untouched fields keep the global value.
	if !windows.CreateShortcut || windows.ShortcutName != "SeaTide" {
		t.Error("windows override clobbered unrelated fields")
	}
}

func TestManifestSkeleton(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	m := cfg.ManifestSkeleton("linux")
	if m.Product != "seatide" || m.Version != "1.4.0" {
		t.Errorf("identity = %s %s", m.Product, m.Version)
	}
	if len(m.Components) != 2 {
		t.Errorf("components = %d", len(m.Components))
	}

	// shortcut, add_to_path, service, post command, in that order.
	kinds := make([]manifest.ActionKind, 0, len(m.Actions))
	for _, a := range m.Actions {
		kinds = append(kinds, a.Kind)
	}
	want := []manifest.ActionKind{
		manifest.ActionCreateShortcut,
		manifest.ActionAddToPath,
		manifest.ActionRegisterService,
		manifest.ActionRunCommand,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("action %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	// Windows drops the PATH action via its override.
	m = cfg.ManifestSkeleton("windows")
	for _, a := range m.Actions {
		if a.Kind == manifest.ActionAddToPath {
			t.Error("windows skeleton should not add to PATH")
		}
	}
}

func TestScaffold_RoundTrips(t *testing.T) {
	data, err := Scaffold("demo")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, string(data))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("scaffold does not load back: %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("name = %q", cfg.Project.Name)
	}
}
