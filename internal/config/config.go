// Package config loads and validates install.toml, the declarative input to
// packaging and installation, using Viper.
package config

import (
	"runtime"

	"github.com/spf13/viper"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/paths"
)

// AppName is used for environment variable prefixes and default paths.
const AppName = "capstan"

// DefaultFileName is the config file capstan looks for in the working
// directory.
const DefaultFileName = "install.toml"

// Config is the top-level install.toml structure.
type Config struct {
	Project    Project             `mapstructure:"project" toml:"project"`
	Install    InstallOptions      `mapstructure:"install" toml:"install"`
	Platform   map[string]Override `mapstructure:"platform" toml:"platform,omitempty"`
	Components []Component         `mapstructure:"components" toml:"components,omitempty"`
	Services   []Service           `mapstructure:"services" toml:"services,omitempty"`
	Commands   []Command           `mapstructure:"commands" toml:"commands,omitempty"`
	Preflight  Preflight           `mapstructure:"preflight" toml:"preflight,omitempty"`
}

// Project identifies the product being packaged.
type Project struct {
	Name        string `mapstructure:"name" toml:"name"`
	Version     string `mapstructure:"version" toml:"version"`
	Description string `mapstructure:"description" toml:"description,omitempty"`
}

// InstallOptions are the global installation options. Per-platform overrides
// merge over them via OptionsFor.
type InstallOptions struct {
	// InstallDir is the target directory. Empty means the per-OS default.
	InstallDir string `mapstructure:"install_dir" toml:"install_dir,omitempty"`

	// CreateShortcut adds a launcher shortcut to ShortcutTarget.
	CreateShortcut bool `mapstructure:"create_shortcut" toml:"create_shortcut,omitempty"`

	// ShortcutName is the shortcut's display name. Defaults to the project
	// name.
	ShortcutName string `mapstructure:"shortcut_name" toml:"shortcut_name,omitempty"`

	// ShortcutTarget is the install-root-relative path the shortcut opens.
	ShortcutTarget string `mapstructure:"shortcut_target" toml:"shortcut_target,omitempty"`

	// MenuShortcut places the shortcut in the applications menu instead of
	// the desktop.
	MenuShortcut bool `mapstructure:"menu_shortcut" toml:"menu_shortcut,omitempty"`

	// AddToPath exposes PathDir (or the install root) on PATH.
	AddToPath bool `mapstructure:"add_to_path" toml:"add_to_path,omitempty"`

	// PathDir is the install-root-relative directory AddToPath exports.
	PathDir string `mapstructure:"path_dir" toml:"path_dir,omitempty"`
}

// Override is a per-platform partial InstallOptions; only set fields replace
// the global value. Keys are GOOS names: linux, darwin, windows.
type Override struct {
	InstallDir     *string `mapstructure:"install_dir" toml:"install_dir,omitempty"`
	CreateShortcut *bool   `mapstructure:"create_shortcut" toml:"create_shortcut,omitempty"`
	ShortcutName   *string `mapstructure:"shortcut_name" toml:"shortcut_name,omitempty"`
	ShortcutTarget *string `mapstructure:"shortcut_target" toml:"shortcut_target,omitempty"`
	MenuShortcut   *bool   `mapstructure:"menu_shortcut" toml:"menu_shortcut,omitempty"`
	AddToPath      *bool   `mapstructure:"add_to_path" toml:"add_to_path,omitempty"`
	PathDir        *string `mapstructure:"path_dir" toml:"path_dir,omitempty"`
}

// Component groups a source path prefix into a named install unit.
type Component struct {
	Name      string   `mapstructure:"name" toml:"name"`
	Path      string   `mapstructure:"path" toml:"path"`
	DependsOn []string `mapstructure:"depends_on" toml:"depends_on,omitempty"`
}

// Service is a system service the installer registers.
type Service struct {
	Name        string   `mapstructure:"name" toml:"name"`
	DisplayName string   `mapstructure:"display_name" toml:"display_name,omitempty"`
	Description string   `mapstructure:"description" toml:"description,omitempty"`
	Exec        string   `mapstructure:"exec" toml:"exec"`
	Args        []string `mapstructure:"args" toml:"args,omitempty"`
}

// Command is an ordered install command. Phase "pre" runs before platform
// integration actions, "post" after; the default is post.
type Command struct {
	Name            string   `mapstructure:"name" toml:"name"`
	Program         string   `mapstructure:"program" toml:"program"`
	Args            []string `mapstructure:"args" toml:"args,omitempty"`
	WorkDir         string   `mapstructure:"work_dir" toml:"work_dir,omitempty"`
	Background      bool     `mapstructure:"background" toml:"background,omitempty"`
	Phase           string   `mapstructure:"phase" toml:"phase,omitempty"`
	RollbackProgram string   `mapstructure:"rollback_program" toml:"rollback_program,omitempty"`
	RollbackArgs    []string `mapstructure:"rollback_args" toml:"rollback_args,omitempty"`
}

// Preflight holds the system requirement thresholds.
type Preflight struct {
	// MinMemoryMB is the minimum total system memory in mebibytes.
	MinMemoryMB uint64 `mapstructure:"min_memory_mb" toml:"min_memory_mb,omitempty"`
}

// Load reads install.toml from path, or from the working directory when path
// is empty. Environment variables prefixed CAPSTAN_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("install")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(AppName)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err.Error())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OptionsFor returns the install options with the named platform's overrides
// merged over the globals. goos is a runtime.GOOS value.
func (c *Config) OptionsFor(goos string) InstallOptions {
	opts := c.Install
	o, ok := c.Platform[goos]
	if !ok {
		return opts
	}
	if o.InstallDir != nil {
		opts.InstallDir = *o.InstallDir
	}
	if o.CreateShortcut != nil {
		opts.CreateShortcut = *o.CreateShortcut
	}
	if o.ShortcutName != nil {
		opts.ShortcutName = *o.ShortcutName
	}
	if o.ShortcutTarget != nil {
		opts.ShortcutTarget = *o.ShortcutTarget
	}
	if o.MenuShortcut != nil {
		opts.MenuShortcut = *o.MenuShortcut
	}
	if o.AddToPath != nil {
		opts.AddToPath = *o.AddToPath
	}
	if o.PathDir != nil {
		opts.PathDir = *o.PathDir
	}
	return opts
}

// InstallDir returns the effective install directory for the running OS,
// falling back to the per-OS default location.
func (c *Config) InstallDir() string {
	opts := c.OptionsFor(runtime.GOOS)
	if opts.InstallDir != "" {
		return opts.InstallDir
	}
	return paths.DefaultInstallDir(c.Project.Name)
}
