// Package reconcile compares a package manifest against the live filesystem
// and the transaction log to compute the minimal repair plan. It only reads;
// applying the plan is the engine's job. Repair never deletes: files on disk
// that the manifest does not mention are not the installer's concern.
package reconcile

import (
	"context"
	"os"
	"strconv"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/platform"
	"github.com/thoreinstein/capstan/internal/txlog"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// ActionIndexKey is the forward-parameter key under which the engine records
// a platform action's index within its manifest. It is how a logged action is
// matched back to the manifest during repair.
const ActionIndexKey = "action_index"

// Disposition classifies one manifest file against the install root.
type Disposition string

const (
	// Missing means the file is absent from disk.
	Missing Disposition = "missing"

	// Modified means the file exists but its content hash differs from the
	// manifest. Detection is hash-based only; size and modification time are
	// never consulted.
	Modified Disposition = "modified"

	// Unchanged means the file matches the manifest.
	Unchanged Disposition = "unchanged"
)

// FileDiff pairs one manifest file entry with its observed disposition.
type FileDiff struct {
	Entry       manifest.FileEntry
	Disposition Disposition
}

// ActionCheck reports whether one manifest platform action needs re-applying.
type ActionCheck struct {
	// Index is the action's position in the manifest action list.
	Index int

	Spec manifest.ActionSpec

	// Reapply is true when the action was never committed, its effect is
	// observably absent, or no feasible existence check exists. Forward
	// operations are idempotent, so re-applying is always safe.
	Reapply bool
}

// RepairPlan is the ordered outcome of a Diff run.
type RepairPlan struct {
	Files   []FileDiff
	Actions []ActionCheck
}

// Damaged returns the file entries that need restaging, in manifest order.
func (p *RepairPlan) Damaged() []manifest.FileEntry {
	var out []manifest.FileEntry
	for _, d := range p.Files {
		if d.Disposition != Unchanged {
			out = append(out, d.Entry)
		}
	}
	return out
}

// Reapply returns the actions that need re-applying, in manifest order.
func (p *RepairPlan) Reapply() []ActionCheck {
	var out []ActionCheck
	for _, a := range p.Actions {
		if a.Reapply {
			out = append(out, a)
		}
	}
	return out
}

// Empty reports whether the plan requires no work.
func (p *RepairPlan) Empty() bool {
	return len(p.Damaged()) == 0 && len(p.Reapply()) == 0
}

// Diff computes the repair plan for the given manifest against the install
// root. File dispositions come from content hashes; platform actions are
// checked against the log's committed records and, where feasible, the
// provider's existence checks.
func Diff(ctx context.Context, m *manifest.Manifest, root string, log *txlog.Log, provider platform.Provider) (*RepairPlan, error) {
	plan := &RepairPlan{
		Files:   make([]FileDiff, 0, len(m.Files)),
		Actions: make([]ActionCheck, 0, len(m.Actions)),
	}

	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := diffFile(f, root)
		if err != nil {
			return nil, err
		}
		plan.Files = append(plan.Files, FileDiff{Entry: f, Disposition: d})
	}

	committed := committedActionIndexes(log)
	for i, a := range m.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		check := ActionCheck{Index: i, Spec: a, Reapply: true}
		if committed[i] && provider.Verify(ctx, a, root) == platform.VerifySatisfied {
			check.Reapply = false
		}
		plan.Actions = append(plan.Actions, check)
	}

	return plan, nil
}

func diffFile(f manifest.FileEntry, root string) (Disposition, error) {
	path := f.Resolve(root)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return "", errors.Wrapf(err, "inspecting %s", f.Path)
	}
	sum, err := fileutil.HashFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "hashing %s", f.Path)
	}
	if sum != f.SHA256 {
		return Modified, nil
	}
	return Unchanged, nil
}

// committedActionIndexes extracts the manifest action indexes the log has
// recorded as Committed.
func committedActionIndexes(log *txlog.Log) map[int]bool {
	out := make(map[int]bool)
	if log == nil {
		return out
	}
	for _, rec := range log.Committed() {
		raw, ok := rec.Forward[ActionIndexKey]
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out[idx] = true
	}
	return out
}
