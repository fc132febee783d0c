package config

import (
	toml "github.com/pelletier/go-toml/v2"

	"github.com/thoreinstein/capstan/internal/errors"
)

// Scaffold returns a starter install.toml for `capstan init`.
func Scaffold(product string) ([]byte, error) {
	if product == "" {
		product = "myapp"
	}
	cfg := Config{
		Project: Project{
			Name:        product,
			Version:     "0.1.0",
			Description: "Describe your product here",
		},
		Install: InstallOptions{
			CreateShortcut: true,
			ShortcutTarget: "bin/" + product,
			AddToPath:      true,
			PathDir:        "bin",
		},
		Components: []Component{
			{Name: "core", Path: "bin"},
		},
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "rendering config scaffold")
	}
	return data, nil
}
