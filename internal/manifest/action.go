package manifest

import "github.com/thoreinstein/capstan/internal/errors"

// ActionKind identifies one reversible unit of platform integration.
type ActionKind string

// The closed set of action kinds the engine understands.
const (
	ActionCreateDirectory ActionKind = "create_directory"
	ActionCreateShortcut  ActionKind = "create_shortcut"
	ActionRegisterService ActionKind = "register_service"
	ActionAddToPath       ActionKind = "add_to_path"
	ActionSetPermissions  ActionKind = "set_permissions"
	ActionRunCommand      ActionKind = "run_command"
)

// ActionSpec carries the parameters needed to both perform and reverse one
// platform action. Which fields are meaningful depends on Kind.
type ActionSpec struct {
	Kind ActionKind `json:"kind"`

	// Path is the slash-separated install-root-relative path for
	// create_directory, set_permissions and the shortcut target.
	Path string `json:"path,omitempty"`

	// LinkName is the shortcut name for create_shortcut.
	LinkName string `json:"link_name,omitempty"`

	// Menu places the shortcut in the applications menu instead of the
	// desktop (create_shortcut).
	Menu bool `json:"menu,omitempty"`

	// Mode is the permission bits for set_permissions.
	Mode uint32 `json:"mode,omitempty"`

	// Service carries the service definition for register_service.
	Service *ServiceSpec `json:"service,omitempty"`

	// Command carries the command definition for run_command.
	Command *CommandSpec `json:"command,omitempty"`
}

// ServiceSpec describes a system service to register.
type ServiceSpec struct {
	// Name is the service identifier, e.g. "seatide-agent".
	Name string `json:"name"`

	// DisplayName is the human-readable service name.
	DisplayName string `json:"display_name,omitempty"`

	// Description is shown by the OS service manager.
	Description string `json:"description,omitempty"`

	// Exec is the install-root-relative path of the service binary.
	Exec string `json:"exec"`

	// Args are passed to the service binary.
	Args []string `json:"args,omitempty"`
}

// CommandSpec describes a command executed during install.
type CommandSpec struct {
	// Name identifies the command in logs and reports.
	Name string `json:"name"`

	// Program is the executable to run. Relative paths resolve against the
	// install root.
	Program string `json:"program"`

	// Args are the program arguments.
	Args []string `json:"args,omitempty"`

	// WorkDir is the working directory, install-root-relative. Empty means
	// the install root itself.
	WorkDir string `json:"work_dir,omitempty"`

	// Background launches the process without awaiting it. A failed launch
	// is a hard failure; an exit after a successful launch is not the
	// engine's concern.
	Background bool `json:"background,omitempty"`

	// RollbackProgram, when set, is executed (with RollbackArgs) to undo
	// this command during rollback or uninstall. run_command has no generic
	// reverse; leaving this empty makes the reverse a no-op.
	RollbackProgram string   `json:"rollback_program,omitempty"`
	RollbackArgs    []string `json:"rollback_args,omitempty"`
}

func (a ActionSpec) validate() error {
	switch a.Kind {
	case ActionCreateDirectory:
		return validateRelPath(a.Path)
	case ActionCreateShortcut:
		if a.LinkName == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "create_shortcut requires link_name")
		}
		return validateRelPath(a.Path)
	case ActionRegisterService:
		if a.Service == nil || a.Service.Name == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "register_service requires a named service")
		}
		return validateRelPath(a.Service.Exec)
	case ActionAddToPath:
		if a.Path == "" {
			return nil // empty means the install root itself
		}
		return validateRelPath(a.Path)
	case ActionSetPermissions:
		if a.Mode == 0 {
			return errors.Wrap(errors.ErrInvalidConfig, "set_permissions requires a mode")
		}
		return validateRelPath(a.Path)
	case ActionRunCommand:
		if a.Command == nil || a.Command.Program == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "run_command requires a program")
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "unknown action kind %q", a.Kind)
	}
}
