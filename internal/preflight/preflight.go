// Package preflight checks system requirements before the engine mutates
// anything: enough free disk at the install location and enough memory.
// Failing preflight aborts the run with nothing to roll back.
package preflight

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/thoreinstein/capstan/internal/errors"
)

// diskHeadroom is the extra space required beyond the payload itself, for
// staging copies and the transaction log.
const diskHeadroom = 64 << 20 // 64 MiB

// Requirements are the thresholds a run must satisfy. Zero values disable the
// corresponding check.
type Requirements struct {
	// PayloadBytes is the uncompressed size the install will write.
	PayloadBytes int64

	// MinMemoryBytes is the minimum total system memory.
	MinMemoryBytes uint64
}

// Check validates the requirements against the machine hosting root.
// The install root may not exist yet; the nearest existing ancestor is
// measured instead.
func Check(root string, req Requirements) error {
	if req.PayloadBytes > 0 {
		usage, err := disk.Usage(existingAncestor(root))
		if err != nil {
			return errors.Wrap(err, "checking free disk space")
		}
		need := uint64(req.PayloadBytes) + diskHeadroom
		if usage.Free < need {
			return errors.Newf("not enough disk space at %s: need %d bytes, have %d",
				root, need, usage.Free)
		}
	}

	if req.MinMemoryBytes > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return errors.Wrap(err, "checking system memory")
		}
		if vm.Total < req.MinMemoryBytes {
			return errors.Newf("not enough memory: need %d bytes, have %d",
				req.MinMemoryBytes, vm.Total)
		}
	}

	return nil
}

// existingAncestor walks up from path to the closest directory that exists.
func existingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
