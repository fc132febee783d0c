// Package platform provides the capability interface for OS integration:
// shortcuts, services, PATH entries, permissions and process launches.
//
// The installation engine is oblivious to the OS it runs on; it only calls
// Provider. One implementation per target platform is selected at startup
// via build tags, a fixed variant set rather than plugin loading.
package platform

import (
	"context"
	"io/fs"
	"log/slog"

	"github.com/thoreinstein/capstan/internal/manifest"
)

// Verification is the result of an idempotent existence check for a
// previously applied action.
type Verification int

const (
	// VerifyUnknown means no feasible check exists; the action must be
	// re-applied (forward operations are idempotent).
	VerifyUnknown Verification = iota

	// VerifySatisfied means the action's effect is present.
	VerifySatisfied

	// VerifyUnsatisfied means the action's effect is missing.
	VerifyUnsatisfied
)

// Provider is the per-OS capability interface. Implementations are stateless
// per call and own no persisted data; all durability belongs to the
// transaction log. Forward operations are idempotent: re-creating an
// existing shortcut overwrites it rather than erroring. Reverse operations
// treat a missing target as success.
type Provider interface {
	// CreateShortcut creates (or overwrites) a launcher shortcut named
	// linkName pointing at target. menu selects the applications menu
	// location instead of the desktop.
	CreateShortcut(ctx context.Context, target, linkName string, menu bool) error

	// RemoveShortcut removes the shortcut; a missing shortcut is success.
	RemoveShortcut(ctx context.Context, linkName string, menu bool) error

	// RegisterService registers a system service whose Exec resolves against
	// installRoot.
	RegisterService(ctx context.Context, svc manifest.ServiceSpec, installRoot string) error

	// UnregisterService removes the service; an unknown service is success.
	UnregisterService(ctx context.Context, name string) error

	// AddPathEntry makes dir available on PATH for future sessions.
	AddPathEntry(ctx context.Context, dir string) error

	// RemovePathEntry undoes AddPathEntry; an absent entry is success.
	RemovePathEntry(ctx context.Context, dir string) error

	// SetPermissions sets the file mode for path.
	SetPermissions(ctx context.Context, path string, mode fs.FileMode) error

	// RunCommand executes the command with paths resolved against
	// installRoot. A background command is launched and not awaited: a
	// failed launch is a hard failure, a later exit is not the engine's
	// concern.
	RunCommand(ctx context.Context, cmd manifest.CommandSpec, installRoot string) error

	// Verify performs an idempotent existence check for the action where
	// feasible, returning VerifyUnknown otherwise.
	Verify(ctx context.Context, spec manifest.ActionSpec, installRoot string) Verification
}

// New returns the Provider for the running OS. Implemented per platform in
// the build-tagged provider files.
func New(logger *slog.Logger) Provider {
	return newProvider(logger)
}
