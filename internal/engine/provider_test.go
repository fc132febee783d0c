package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/platform"
)

// fakeProvider records every capability call and can be told to fail a
// specific operation. Verify answers from the recorded state, like a real
// provider answers from the OS.
type fakeProvider struct {
	mu        sync.Mutex
	calls     []string
	failOn    map[string]error
	shortcuts map[string]bool
	services  map[string]bool
	pathDirs  map[string]bool

	// onCall, when set, runs before every recorded call. Used to trigger
	// cancellation mid-run.
	onCall func(op string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failOn:    map[string]error{},
		shortcuts: map[string]bool{},
		services:  map[string]bool{},
		pathDirs:  map[string]bool{},
	}
}

func (p *fakeProvider) record(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onCall != nil {
		p.onCall(op)
	}
	p.calls = append(p.calls, op)
	return p.failOn[op]
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) CreateShortcut(_ context.Context, _, linkName string, _ bool) error {
	if err := p.record("create_shortcut:" + linkName); err != nil {
		return err
	}
	p.mu.Lock()
	p.shortcuts[linkName] = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) RemoveShortcut(_ context.Context, linkName string, _ bool) error {
	if err := p.record("remove_shortcut:" + linkName); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.shortcuts, linkName)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) RegisterService(_ context.Context, svc manifest.ServiceSpec, _ string) error {
	if err := p.record("register_service:" + svc.Name); err != nil {
		return err
	}
	p.mu.Lock()
	p.services[svc.Name] = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) UnregisterService(_ context.Context, name string) error {
	if err := p.record("unregister_service:" + name); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.services, name)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) AddPathEntry(_ context.Context, dir string) error {
	if err := p.record("add_to_path:" + filepath.Base(dir)); err != nil {
		return err
	}
	p.mu.Lock()
	p.pathDirs[dir] = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) RemovePathEntry(_ context.Context, dir string) error {
	if err := p.record("remove_path:" + filepath.Base(dir)); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.pathDirs, dir)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) SetPermissions(_ context.Context, path string, mode fs.FileMode) error {
	if err := p.record("set_permissions:" + filepath.Base(path)); err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

func (p *fakeProvider) RunCommand(_ context.Context, cmd manifest.CommandSpec, _ string) error {
	return p.record("run_command:" + cmd.Name)
}

func (p *fakeProvider) Verify(_ context.Context, spec manifest.ActionSpec, root string) platform.Verification {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch spec.Kind {
	case manifest.ActionCreateShortcut:
		if p.shortcuts[spec.LinkName] {
			return platform.VerifySatisfied
		}
		return platform.VerifyUnsatisfied
	case manifest.ActionRegisterService:
		if p.services[spec.Service.Name] {
			return platform.VerifySatisfied
		}
		return platform.VerifyUnsatisfied
	case manifest.ActionAddToPath:
		dir := root
		if spec.Path != "" {
			dir = filepath.Join(root, filepath.FromSlash(spec.Path))
		}
		if p.pathDirs[dir] {
			return platform.VerifySatisfied
		}
		return platform.VerifyUnsatisfied
	case manifest.ActionCreateDirectory:
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(spec.Path))); err == nil {
			return platform.VerifySatisfied
		}
		return platform.VerifyUnsatisfied
	default:
		return platform.VerifyUnknown
	}
}

var errBoom = errors.New("boom")
