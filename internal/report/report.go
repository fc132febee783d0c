// Package report persists a YAML summary of every engine run so operators
// can see exactly what happened after the fact, success or not.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thoreinstein/capstan/internal/engine"
	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/paths"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// Report is the on-disk run summary.
type Report struct {
	Operation      string        `yaml:"operation"`
	Product        string        `yaml:"product,omitempty"`
	ProductVersion string        `yaml:"product_version,omitempty"`
	InstallRoot    string        `yaml:"install_root"`
	State          string        `yaml:"state"`
	Error          string        `yaml:"error,omitempty"`
	Started        time.Time     `yaml:"started"`
	Finished       time.Time     `yaml:"finished"`
	DurationMillis int64         `yaml:"duration_ms"`
	Actions        []ActionEntry `yaml:"actions,omitempty"`
	Unreversed     []ActionEntry `yaml:"unreversed,omitempty"`
}

// ActionEntry mirrors one engine action outcome.
type ActionEntry struct {
	ID     string `yaml:"id"`
	Kind   string `yaml:"kind"`
	Status string `yaml:"status"`
	Reason string `yaml:"reason,omitempty"`
}

// Write persists the report for one run into dir (the default report
// directory when dir is empty) and returns the written path.
func Write(dir, operation string, res *engine.Result, runErr error) (string, error) {
	if dir == "" {
		dir = paths.ReportDir()
	}
	if err := paths.EnsureDir(dir); err != nil {
		return "", errors.Wrap(err, "creating report directory")
	}

	rep := &Report{
		Operation:      operation,
		Product:        res.Product,
		ProductVersion: res.ProductVersion,
		InstallRoot:    res.InstallRoot,
		State:          string(res.State),
		Started:        res.Started,
		Finished:       res.Finished,
		DurationMillis: res.Duration().Milliseconds(),
		Actions:        entries(res.Actions),
		Unreversed:     entries(res.Unreversed),
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	name := fmt.Sprintf("%s-%s.yaml", res.Started.UTC().Format("20060102T150405"), operation)
	path := filepath.Join(dir, name)
	if err := fileutil.AtomicWriteYAML(path, rep); err != nil {
		return "", errors.Wrap(err, "writing run report")
	}
	return path, nil
}

// Load reads a previously written report.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading run report")
	}
	var rep Report
	if err := yaml.Unmarshal(data, &rep); err != nil {
		return nil, errors.Wrap(err, "parsing run report")
	}
	return &rep, nil
}

func entries(outcomes []engine.ActionOutcome) []ActionEntry {
	out := make([]ActionEntry, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, ActionEntry{
			ID:     o.ID,
			Kind:   o.Kind,
			Status: string(o.Status),
			Reason: o.Reason,
		})
	}
	return out
}
